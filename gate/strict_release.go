//go:build !larpa_debug

package gate

const strict = false
