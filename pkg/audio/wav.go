package audio

import "encoding/binary"

// wavHeaderSize is the length of a canonical PCM RIFF/WAV header.
const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a canonical
// RIFF/WAV container suitable for a multipart upload.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[wavHeaderSize:], pcm)

	return buf
}

// WAVPayload returns the PCM data section of a WAV produced by [EncodeWAV]
// along with its sample rate and channel count. ok is false when wav is not
// a canonical 44-byte-header PCM file.
func WAVPayload(wav []byte) (pcm []byte, sampleRate, channels int, ok bool) {
	if len(wav) < wavHeaderSize || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		return nil, 0, 0, false
	}
	channels = int(binary.LittleEndian.Uint16(wav[22:24]))
	sampleRate = int(binary.LittleEndian.Uint32(wav[24:28]))
	size := int(binary.LittleEndian.Uint32(wav[40:44]))
	if wavHeaderSize+size > len(wav) {
		return nil, 0, 0, false
	}
	return wav[wavHeaderSize : wavHeaderSize+size], sampleRate, channels, true
}
