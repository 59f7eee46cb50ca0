// Package procexec runs external command-line tools and captures their output.
//
// Exec drains stdout and stderr concurrently, logs each line tagged with the
// tool name, and reports the exit status as data. A non-zero exit is not an
// error; callers decide what it means. Only a failure to start the process
// (or a cancelled context) is returned as an error.
package procexec
