// Package textutil holds small string helpers shared by the CLI and the
// conversion packages.
package textutil
