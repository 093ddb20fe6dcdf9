//go:build !gocv

package marker

func defaultCodec() Codec {
	return Builtin()
}
