package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Probe is the best-effort inspection of a merged file. Exactly one of Info
// and Err is set. A failed probe is diagnostic only.
type Probe struct {
	Info *ProbeInfo
	Err  error
}

type ProbeInfo struct {
	FormatName string       `json:"formatName"`
	Duration   float64      `json:"duration"`
	Streams    []StreamInfo `json:"streams"`
}

type StreamInfo struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codecName"`
	CodecType  string `json:"codecType"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	BitRate    int    `json:"bitRate,omitempty"`
}

// Audio returns the first audio stream, or nil.
func (p *ProbeInfo) Audio() *StreamInfo {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Index      int    `json:"index"`
		CodecName  string `json:"codec_name"`
		CodecType  string `json:"codec_type"`
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
		BitRate    string `json:"bit_rate"`
	} `json:"streams"`
}

// Probe runs ffprobe on path. It never fails the caller; errors are carried
// in the returned Probe.
func (m *Merger) Probe(ctx context.Context, path string) Probe {
	res, err := m.Runner.Run(ctx, m.FFprobe,
		"-v", "error",
		"-show_entries", "format=format_name,duration:stream=index,codec_name,codec_type,channels,sample_rate,bit_rate",
		"-print_format", "json",
		path,
	)
	if err != nil {
		return Probe{Err: fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(res.Stderr))}
	}
	info, err := parseProbe([]byte(res.Stdout))
	if err != nil {
		return Probe{Err: err}
	}
	return Probe{Info: info}
}

func parseProbe(b []byte) (*ProbeInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	info := &ProbeInfo{FormatName: out.Format.FormatName}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	for _, s := range out.Streams {
		si := StreamInfo{
			Index:     s.Index,
			CodecName: s.CodecName,
			CodecType: s.CodecType,
			Channels:  s.Channels,
		}
		si.SampleRate, _ = strconv.Atoi(s.SampleRate)
		si.BitRate, _ = strconv.Atoi(s.BitRate)
		info.Streams = append(info.Streams, si)
	}
	return info, nil
}
