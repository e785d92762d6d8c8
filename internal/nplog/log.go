// Package nplog implements the leveled, tag-based logger used across every
// newpkg component: a small set of severities, a fixed vocabulary of
// component tags, an optional file sink, and folding of repeated lines so
// a noisy build command does not flood the log.
package nplog

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Specifies the log levels.
const (
	LevelError = iota + 1
	LevelWarning
	LevelInfo
	LevelDebug
	LevelVerbose // Same as Debug, but without repeat-line folding.
)

// Specifies the component tags used across the pipeline.
const (
	Core     = "CORE"
	DB       = "DB"
	DepGraph = "DEPGRAPH"
	Fetch    = "FETCH"
	Stage    = "STAGE"
	Chroot   = "CHROOT"
	Snapshot = "SNAPSHOT"
	Upgrade  = "UPGRADE"
	Remove   = "REMOVE"
	Depclean = "DEPCLEAN"
	Hook     = "HOOK"
	VCS      = "VCS"
)

var (
	level      = LevelInfo
	levelMap   = map[int]string{}
	fileHandle *os.File
	logging    = false
	lineLast   string
	lineCount  int
	tagMap     = map[string]bool{}
)

func init() {
	levelMap[LevelError] = "ERROR"
	levelMap[LevelWarning] = "WARNING"
	levelMap[LevelInfo] = "INFO"
	levelMap[LevelDebug] = "DEBUG"
	levelMap[LevelVerbose] = "VERBOSE"
	for _, t := range []string{Core, DB, DepGraph, Fetch, Stage, Chroot, Snapshot, Upgrade, Remove, Depclean, Hook, VCS} {
		tagMap[t] = true
	}
}

// SetLogLevel sets the default log level to l, clamping to the valid range.
func SetLogLevel(l int) {
	switch {
	case l < LevelError:
		level = LevelError
		logTag("WRN", Core, "Log level %d too low, forcing to %s (%d)", l, levelMap[level], level)
	case l > LevelVerbose:
		level = LevelVerbose
		logTag("WRN", Core, "Log level %d too high, forcing to %s (%d)", l, levelMap[level], level)
	default:
		level = l
	}
}

// SetOutputFilename routes all log output to logFile instead of stdout/stderr.
func SetOutputFilename(logFile string) (*os.File, error) {
	var err error
	fileHandle, err = os.OpenFile(logFile, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	log.SetOutput(fileHandle)
	log.SetFlags(log.LstdFlags | log.LUTC)
	logging = true
	return fileHandle, nil
}

// CloseLogHandler closes the file handle backing the log, if any.
func CloseLogHandler() {
	if logging && fileHandle != nil {
		if err := fileHandle.Close(); err != nil {
			fmt.Printf("WARNING: couldn't close log file: %s\n", err)
		}
	}
}

func logTag(tag string, cmdTag, format string, a ...interface{}) {
	if len(a) < 1 {
		format = strings.ReplaceAll(format, "%", "%%")
	}

	f := "[" + tag + "][" + cmdTag + "] " + format + "\n"
	output := fmt.Sprintf(f, a...)

	if level >= LevelVerbose {
		log.Print(output)
		return
	}

	if output != lineLast {
		if lineCount > 0 {
			plural := ""
			if lineCount > 1 {
				plural = "s"
			}
			log.Printf("[%s] [Previous line repeated %d time%s]\n", tag, lineCount, plural)
		}
		log.Print(output)
		lineLast = output
		lineCount = 0
	} else {
		lineCount++
	}
}

func tagOrDefault(cmdTag string) string {
	if tagMap[cmdTag] {
		return cmdTag
	}
	return Core
}

// Debug prints a debug-level entry.
func Debug(cmdTag, format string, a ...interface{}) {
	if level < LevelDebug || !logging {
		return
	}
	logTag("DBG", tagOrDefault(cmdTag), format, a...)
}

// Error prints an error-level entry. Errors are always echoed to stdout
// regardless of whether file logging is enabled.
func Error(cmdTag, format string, a ...interface{}) {
	fmt.Printf("Error: "+format+"\n", a...)
	if !logging {
		return
	}
	logTag("ERR", tagOrDefault(cmdTag), format, a...)
}

// Info prints an info-level entry, always echoed to stdout.
func Info(cmdTag, format string, a ...interface{}) {
	fmt.Printf(format+"\n", a...)
	if level < LevelInfo || !logging {
		return
	}
	logTag("INF", tagOrDefault(cmdTag), format, a...)
}

// Warning prints a warning-level entry, always echoed to stdout.
func Warning(cmdTag, format string, a ...interface{}) {
	fmt.Printf("Warning: "+format+"\n", a...)
	if level < LevelWarning || !logging {
		return
	}
	logTag("WRN", tagOrDefault(cmdTag), format, a...)
}

// Verbose prints a verbose-level entry (no repeat-line folding).
func Verbose(cmdTag, format string, a ...interface{}) {
	if level < LevelVerbose || !logging {
		return
	}
	logTag("VRB", tagOrDefault(cmdTag), format, a...)
}
