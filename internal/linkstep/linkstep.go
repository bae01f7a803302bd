// Package linkstep classifies a compiler command line as a link step or a
// compile step without any I/O. Link steps bypass the relay daemon: they run
// long, reference many inputs, and gain nothing from remote execution.
package linkstep

import "strings"

// IsLinkerInvocation reports whether args (the compiler's arguments, program
// name excluded) look like a final link step.
//
// Rules:
//   - "-o" followed by an output ending in ".so" is a link, immediately.
//   - other flags are skipped ("-o" additionally consumes its value).
//   - every remaining argument ending in ".o", ".a" or ".so" counts as a
//     linker input.
//
// A single counted input is not enough: ordinary compiles routinely mention
// one precompiled object. Two or more means a link.
func IsLinkerInvocation(args []string) bool {
	inputs := 0
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			if arg == "-o" && i+1 < len(args) {
				if strings.HasSuffix(args[i+1], ".so") {
					return true
				}
				i++ // the output path itself never counts
			}
			continue
		}
		if strings.HasSuffix(arg, ".o") || strings.HasSuffix(arg, ".a") || strings.HasSuffix(arg, ".so") {
			inputs++
		}
	}
	return inputs > 1
}
