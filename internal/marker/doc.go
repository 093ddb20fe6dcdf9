// Package marker maps marker IDs to fiducial bitmaps.
//
// A Codec turns an integer marker ID into a square black/white pattern that a
// tile shows on screen during calibration. The mapping is pure: the same ID
// and size always produce the same Bitmap, so a tile can re-render its marker
// after a reconnect without asking the server again.
//
// The built-in Dictionary is a 6x6 family of 250 symbols generated
// deterministically with a minimum Hamming distance that holds under
// rotation. Builds with the gocv tag also provide ArucoCodec, which renders
// OpenCV's DICT_6X6_250 reference markers bit for bit so that the OpenCV
// detector recognises them.
package marker
