package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// ErrUnknownJob is returned when the recognizer has no job with the given name.
var ErrUnknownJob = errors.New("transcription job not found")

// TranscribeAPI is the subset of the AWS Transcribe client the recognizer uses.
type TranscribeAPI interface {
	StartTranscriptionJob(ctx context.Context, in *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, in *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

// TranscriptReader opens transcript documents written to the output bucket.
type TranscriptReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type CloudOptions struct {
	Client       TranscribeAPI
	OutputBucket string
	Transcripts  TranscriptReader
	Settings     RecognitionSettings
	// NewJobName overrides job name generation in tests.
	NewJobName func() string
}

// CloudRecognizer runs long-running recognition jobs on AWS Transcribe.
// Jobs read audio from an s3:// URI and write their transcript to
// OutputBucket as <job name>.json.
type CloudRecognizer struct {
	client       TranscribeAPI
	outputBucket string
	transcripts  TranscriptReader
	settings     RecognitionSettings
	newJobName   func() string
}

func NewCloudRecognizer(opts CloudOptions) *CloudRecognizer {
	newJobName := opts.NewJobName
	if newJobName == nil {
		newJobName = func() string { return "stt-" + uuid.NewString() }
	}
	return &CloudRecognizer{
		client:       opts.Client,
		outputBucket: opts.OutputBucket,
		transcripts:  opts.Transcripts,
		settings:     opts.Settings,
		newJobName:   newJobName,
	}
}

func (c *CloudRecognizer) Kind() Kind { return KindCloud }

// Submit starts a transcription job for audio.URI and returns its job name.
func (c *CloudRecognizer) Submit(ctx context.Context, audio Audio) (Handle, error) {
	if !strings.HasPrefix(audio.URI, "s3://") {
		return Handle{}, fmt.Errorf("cloud recognizer needs an s3:// URI, got %q", audio.URI)
	}
	jobName := c.newJobName()
	in := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		LanguageCode:         types.LanguageCode(c.settings.LanguageCode),
		Media:                &types.Media{MediaFileUri: aws.String(audio.URI)},
		OutputBucketName:     aws.String(c.outputBucket),
	}
	format := mediaFormat(audio.URI)
	if format != "" {
		in.MediaFormat = format
	}
	if rate := captureSampleRate(format, c.settings.SampleRateHertz); rate > 0 {
		in.MediaSampleRateHertz = aws.Int32(rate)
	}
	if model := c.settings.CustomModel(); model != "" {
		in.ModelSettings = &types.ModelSettings{LanguageModelName: aws.String(model)}
	}
	if c.settings.Diarization {
		// Transcribe accepts 2..30 speaker labels.
		maxSpeakers := int32(c.settings.MaxSpeakers)
		if maxSpeakers < 2 {
			maxSpeakers = 2
		}
		if maxSpeakers > 30 {
			maxSpeakers = 30
		}
		in.Settings = &types.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int32(maxSpeakers),
		}
	}

	if _, err := c.client.StartTranscriptionJob(ctx, in); err != nil {
		return Handle{}, fmt.Errorf("start transcription job: %w", err)
	}
	return Handle{Kind: KindCloud, OperationName: jobName}, nil
}

// Poll checks the job once. On completion the transcript is read from the
// output bucket and reduced to speaker-labelled words.
func (c *CloudRecognizer) Poll(ctx context.Context, h Handle) (*PollResult, error) {
	if h.Kind != KindCloud {
		return nil, ErrHandleMismatch
	}
	if h.OperationName == "" {
		return nil, errEmptyHandle
	}

	out, err := c.client.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(h.OperationName),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownJob, h.OperationName)
		}
		return nil, fmt.Errorf("get transcription job: %w", err)
	}
	job := out.TranscriptionJob
	if job == nil {
		return nil, fmt.Errorf("get transcription job %s: empty response", h.OperationName)
	}

	meta := map[string]any{"status": string(job.TranscriptionJobStatus)}
	if job.CreationTime != nil {
		meta["createTime"] = job.CreationTime.UTC()
	}
	if job.StartTime != nil {
		meta["startTime"] = job.StartTime.UTC()
	}

	switch job.TranscriptionJobStatus {
	case types.TranscriptionJobStatusCompleted:
		res, err := c.readTranscript(ctx, h.OperationName)
		if err != nil {
			return nil, err
		}
		if job.CompletionTime != nil {
			meta["completionTime"] = job.CompletionTime.UTC()
		}
		return &PollResult{Done: true, Result: res, Metadata: meta}, nil
	case types.TranscriptionJobStatusFailed:
		return nil, jobFailed("cloud", aws.ToString(job.FailureReason))
	default:
		return &PollResult{Done: false, Metadata: meta}, nil
	}
}

func (c *CloudRecognizer) readTranscript(ctx context.Context, jobName string) (*Result, error) {
	rc, err := c.transcripts.Open(ctx, jobName+".json")
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return ParseCloudTranscript(raw)
}

// cloudTranscript is the JSON document Transcribe writes to the output bucket.
type cloudTranscript struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		SpeakerLabels *struct {
			Segments []struct {
				SpeakerLabel string `json:"speaker_label"`
				Items        []struct {
					StartTime    string `json:"start_time"`
					SpeakerLabel string `json:"speaker_label"`
				} `json:"items"`
			} `json:"segments"`
		} `json:"speaker_labels,omitempty"`
		Items []struct {
			StartTime    string `json:"start_time,omitempty"`
			EndTime      string `json:"end_time,omitempty"`
			Type         string `json:"type"`
			SpeakerLabel string `json:"speaker_label,omitempty"`
			Alternatives []struct {
				Content string `json:"content"`
			} `json:"alternatives"`
		} `json:"items"`
	} `json:"results"`
	Status string `json:"status"`
}

// ParseCloudTranscript reduces a Transcribe output document to words. Items
// without an inline speaker label are matched to the speaker segments by start
// time; punctuation is attached to the preceding word. Output without any
// speaker labels yields a result with text only.
func ParseCloudTranscript(raw []byte) (*Result, error) {
	var doc cloudTranscript
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}

	var texts []string
	for _, t := range doc.Results.Transcripts {
		if s := strings.TrimSpace(t.Transcript); s != "" {
			texts = append(texts, s)
		}
	}
	res := &Result{Text: strings.Join(texts, "\n"), Raw: json.RawMessage(raw)}

	bySegment := map[string]string{}
	if doc.Results.SpeakerLabels != nil {
		for _, seg := range doc.Results.SpeakerLabels.Segments {
			for _, it := range seg.Items {
				label := it.SpeakerLabel
				if label == "" {
					label = seg.SpeakerLabel
				}
				bySegment[it.StartTime] = label
			}
		}
	}

	labelled := false
	for _, it := range doc.Results.Items {
		if len(it.Alternatives) == 0 {
			continue
		}
		content := it.Alternatives[0].Content
		if it.Type == "punctuation" {
			if n := len(res.Units); n > 0 {
				res.Units[n-1].Text += content
			}
			continue
		}
		label := it.SpeakerLabel
		if label == "" {
			label = bySegment[it.StartTime]
		}
		if label != "" {
			labelled = true
		}
		start, _ := strconv.ParseFloat(it.StartTime, 64)
		end, _ := strconv.ParseFloat(it.EndTime, 64)
		res.Units = append(res.Units, Unit{Speaker: label, Text: content, Start: start, End: end})
	}
	if !labelled {
		res.Units = nil
	}
	return res, nil
}

// mediaFormat derives the Transcribe media format from the object extension.
func mediaFormat(uri string) types.MediaFormat {
	switch strings.ToLower(path.Ext(uri)) {
	case ".flac":
		return types.MediaFormatFlac
	case ".m4a", ".mp4":
		return types.MediaFormatM4a
	case ".webm":
		return types.MediaFormatWebm
	case ".ogg", ".opus":
		return types.MediaFormatOgg
	case ".mp3":
		return types.MediaFormatMp3
	case ".wav":
		return types.MediaFormatWav
	}
	return ""
}

// captureSampleRate is the rate declared for stream-copied browser captures.
// Re-encoded assets carry their own rate and are left to auto-detection, as
// is anything outside the 8..48kHz range Transcribe accepts.
func captureSampleRate(format types.MediaFormat, hz int) int32 {
	if format != types.MediaFormatWebm && format != types.MediaFormatOgg {
		return 0
	}
	if hz < 8000 || hz > 48000 {
		return 0
	}
	return int32(hz)
}

// isNotFoundError determines if an error from AWS indicates a "not found" condition.
func isNotFoundError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFoundException", "404":
			return true
		case "BadRequestException":
			return strings.Contains(apiErr.ErrorMessage(), "couldn't be found")
		}
	}
	return false
}
