package audio

// MIMEType maps a declared audio format to the MIME type used when
// handing decoded bytes to a Player. Unrecognized formats fall back to
// audio/mpeg, matching the synthesis backend's default output.
func MIMEType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "ogg_opus", "ogg":
		return "audio/ogg"
	case "wav", "linear16":
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}
