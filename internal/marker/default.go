package marker

// Default returns the codec used when none is configured explicitly.
func Default() Codec {
	return defaultCodec()
}
