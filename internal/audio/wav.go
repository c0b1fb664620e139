// Package audio wraps raw synthesizer PCM in WAV containers for the
// endpoints that hand a browser a complete clip in one response.
package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
)

// DefaultSampleRate matches the synthesizer output used by the service.
const DefaultSampleRate = 24000

const headerSize = 44

// EncodeWAV wraps raw PCM16LE mono samples in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(pcm)))
	_ = WriteWAV(buf, pcm, sampleRate)
	return buf.Bytes()
}

// WriteWAV writes raw PCM16LE mono samples to out as a WAV stream.
func WriteWAV(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	const (
		channels      = 1
		bitsPerSample = 16
		blockAlign    = channels * bitsPerSample / 8
	)

	var hdr [headerSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(headerSize-8+len(pcm)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], channels)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(pcm)))

	if _, err := out.Write(hdr[:]); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// WriteWAVFile saves raw PCM16LE mono samples as a WAV file.
func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAV(f, pcm, sampleRate)
}
