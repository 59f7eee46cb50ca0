// Package workspace manages the temporary directory conversions write into.
//
// Every file is named squish-<uuid>.<ext> so concurrent conversions never
// collide. A Tracker remembers the files one conversion created and removes
// all of them except the artifact handed back to the caller. Conversions hold
// a shared flock on the workspace while they run; stale cleanup takes the
// exclusive lock so it never deletes files a live conversion still owns.
package workspace
