package format

// detectFrame parses an MPEG-1 Layer I/II/III or MPEG-2/2.5 Layer III
// frame header at the start of data and returns its total size in bytes, or 0 if data does not
// begin with a valid frame. Adapted from the teacher's
// stream.DetectMP3Frame.
func detectFrame(data []byte) int {
	if len(data) < 4 {
		return 0
	}
	if data[0] != 0xFF || (data[1]&0xE0) != 0xE0 {
		return 0
	}

	version := (data[1] >> 3) & 0x03
	layer := (data[1] >> 1) & 0x03
	bitrateIdx := (data[2] >> 4) & 0x0F
	samplingIdx := (data[2] >> 2) & 0x03
	padding := int((data[2] >> 1) & 0x01)

	if bitrateIdx == 0 || bitrateIdx == 15 || samplingIdx == 3 {
		return 0
	}

	var bitrate, samplingRate int

	switch version {
	case 3: // MPEG1
		switch layer {
		case 1: // Layer III
			bitrates := []int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
			bitrate = bitrates[bitrateIdx] * 1000
		case 2: // Layer II
			bitrates := []int{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0}
			bitrate = bitrates[bitrateIdx] * 1000
		case 3: // Layer I
			bitrates := []int{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0}
			bitrate = bitrates[bitrateIdx] * 1000
		default:
			return 0
		}
		samplingRates := []int{44100, 48000, 32000, 0}
		samplingRate = samplingRates[samplingIdx]
	case 2: // MPEG2
		if layer != 1 {
			return 0
		}
		bitrates := []int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
		bitrate = bitrates[bitrateIdx] * 1000
		samplingRates := []int{22050, 24000, 16000, 0}
		samplingRate = samplingRates[samplingIdx]
	case 0: // MPEG2.5
		if layer != 1 {
			return 0
		}
		bitrates := []int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
		bitrate = bitrates[bitrateIdx] * 1000
		samplingRates := []int{11025, 12000, 8000, 0}
		samplingRate = samplingRates[samplingIdx]
	default:
		return 0
	}

	if bitrate == 0 || samplingRate == 0 {
		return 0
	}

	var frameSize int
	switch layer {
	case 3: // Layer I
		frameSize = (12*bitrate/samplingRate + padding) * 4
	case 2, 1: // Layer II, Layer III
		if version == 3 {
			frameSize = 144*bitrate/samplingRate + padding
		} else {
			frameSize = 72*bitrate/samplingRate + padding
		}
	}

	return frameSize
}

// findNextFrame scans data for the first byte offset at which a valid MP3
// frame header begins, or -1 if none is found. Adapted from the teacher's
// stream.FindNextMP3Frame.
func findNextFrame(data []byte) int {
	for i := 0; i < len(data)-4; i++ {
		if data[i] == 0xFF && (data[i+1]&0xE0) == 0xE0 {
			if detectFrame(data[i:]) > 0 {
				return i
			}
		}
	}
	return -1
}

// validateFrame reports whether data begins with a valid MP3 frame.
// Adapted from the teacher's stream.ValidateMP3Frame.
func validateFrame(data []byte) bool {
	return detectFrame(data) > 0
}
