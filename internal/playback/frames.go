package playback

import "time"

// Audio format returned by the dialog engine and expected by the caller side:
// 16-bit linear PCM, 16 kHz, mono.
const (
	SampleRateHz   = 16000
	BytesPerSample = 2
	Channels       = 1

	// FrameDuration is one real-time playback tick.
	FrameDuration = 20 * time.Millisecond

	// FrameSize is the number of bytes in one FrameDuration of audio (640).
	FrameSize = SampleRateHz * BytesPerSample * Channels * int(FrameDuration/time.Millisecond) / 1000
)

// SliceFrames splits audio into consecutive frames of size bytes. The final
// frame is shorter when len(audio) is not a multiple of size. A buffer whose
// length is an exact multiple of size produces no trailing empty frame.
// Frames share the backing array of audio.
func SliceFrames(audio []byte, size int) [][]byte {
	if size <= 0 || len(audio) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(audio)+size-1)/size)
	for pos := 0; pos < len(audio); pos += size {
		end := pos + size
		if end > len(audio) {
			end = len(audio)
		}
		frames = append(frames, audio[pos:end:end])
	}
	return frames
}
