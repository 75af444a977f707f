package probe

// parseLogfmt parses a logfmt-style line ("key=value a=\"b c\"") into a
// map. The disk space monitor entry reports its partitions in this shape.
// Valueless keys map to the empty string; a bare "=" starts a garbage run
// that is skipped up to the next space.
func parseLogfmt(message string) map[string]string {
	pairs := make(map[string]string)

	var key string
	var buf []rune
	havePair := false
	escape := false
	garbage := false
	quoted := false

	complete := func() {
		if havePair {
			pairs[key] = string(buf)
		} else {
			pairs[string(buf)] = ""
		}
		havePair = false
		buf = buf[:0]
	}

	for _, c := range message {
		switch {
		case !quoted && c == ' ':
			if len(buf) > 0 {
				if !garbage {
					complete()
				}
				buf = buf[:0]
			}
			garbage = false
		case !quoted && c == '=':
			if len(buf) > 0 {
				key = string(buf)
				havePair = true
				buf = buf[:0]
			} else {
				garbage = true
			}
		case quoted && c == '\\':
			escape = true
		case c == '"':
			if escape {
				buf = append(buf, c)
				escape = false
			} else {
				quoted = !quoted
			}
		default:
			if escape {
				buf = append(buf, '\\')
				escape = false
			}
			buf = append(buf, c)
		}
	}

	if !garbage && (len(buf) > 0 || havePair) {
		complete()
	}

	return pairs
}
