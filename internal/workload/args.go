package workload

import (
	"fmt"
	"strings"
)

// PartitionPublishArgs separates the port publishing flags from the rest
// of the user's "docker run" arguments.
//
// The workload joins the sidecar's network namespace and cannot publish
// ports itself, so every -p/--publish flag is moved to the sidecar. The
// recognized spellings are "-p V", "-pV", "-p=V", "--publish V" and
// "--publish=V"; abbreviations such as "--pub" are left alone. Publish
// values are returned rendered as "-p=V". The remaining arguments keep
// their order. A "--" argument ends scanning: it and everything after it
// are kept as they are.
func PartitionPublishArgs(args []string) (rest []string, publish []string, err error) {
	rest = make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			rest = append(rest, args[i:]...)
			break
		}

		value, isPublish, needsNext := publishValue(arg)
		if !isPublish {
			rest = append(rest, arg)
			continue
		}
		if needsNext {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("flag %s needs an argument", arg)
			}
			i++
			value = args[i]
		}
		if value == "" {
			return nil, nil, fmt.Errorf("flag %s needs a non-empty argument", arg)
		}
		publish = append(publish, "-p="+value)
	}

	return rest, publish, nil
}

// publishValue reports whether arg is a publish flag. needsNext is set
// when the value is the following argument.
func publishValue(arg string) (value string, isPublish bool, needsNext bool) {
	switch {
	case arg == "-p" || arg == "--publish":
		return "", true, true
	case strings.HasPrefix(arg, "--publish="):
		return strings.TrimPrefix(arg, "--publish="), true, false
	case strings.HasPrefix(arg, "-p="):
		return strings.TrimPrefix(arg, "-p="), true, false
	case strings.HasPrefix(arg, "-p"):
		return strings.TrimPrefix(arg, "-p"), true, false
	default:
		return "", false, false
	}
}

// HasInitFlag reports whether the user already passed --init (with or
// without a value) before any "--" separator.
func HasInitFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--" {
			return false
		}
		if arg == "--init" || strings.HasPrefix(arg, "--init=") {
			return true
		}
	}
	return false
}
