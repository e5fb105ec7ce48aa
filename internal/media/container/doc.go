// Package container classifies raw media bytes by signature and picks the
// stripping strategy for each container kind.
//
// Classification never looks at filenames or extensions and reads at most
// HeaderSize bytes. Kinds and strategies are closed sets:
//
//	Jpeg, Png, Heic -> ReencodeImage(Jpeg, 0.9)
//	Mp4Mov          -> RemuxVideo(Mp4)
//	Unknown         -> rejected
package container
