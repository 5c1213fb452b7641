package transcribe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"
)

type fakeTranscribe struct {
	started  *transcribe.StartTranscriptionJobInput
	statuses []types.TranscriptionJobStatus
	failure  string
	getErr   error
	gets     int
}

func (f *fakeTranscribe) StartTranscriptionJob(ctx context.Context, in *transcribe.StartTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error) {
	f.started = in
	return &transcribe.StartTranscriptionJobOutput{}, nil
}

func (f *fakeTranscribe) GetTranscriptionJob(ctx context.Context, in *transcribe.GetTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	status := f.statuses[f.gets]
	if f.gets < len(f.statuses)-1 {
		f.gets++
	}
	job := &types.TranscriptionJob{
		TranscriptionJobName:   in.TranscriptionJobName,
		TranscriptionJobStatus: status,
	}
	if f.failure != "" {
		job.FailureReason = aws.String(f.failure)
	}
	return &transcribe.GetTranscriptionJobOutput{TranscriptionJob: job}, nil
}

type fakeReader map[string]string

func (f fakeReader) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s, ok := f[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader([]byte(s))), nil
}

const awsTranscript = `{
  "jobName": "stt-1",
  "results": {
    "transcripts": [{"transcript": "Hi there. Hey you. Ok."}],
    "speaker_labels": {"speakers": 2, "segments": [
      {"speaker_label": "spk_0", "items": [{"start_time": "0.0", "speaker_label": "spk_0"}, {"start_time": "0.4", "speaker_label": "spk_0"}]},
      {"speaker_label": "spk_1", "items": [{"start_time": "1.0", "speaker_label": "spk_1"}, {"start_time": "1.3", "speaker_label": "spk_1"}]},
      {"speaker_label": "spk_0", "items": [{"start_time": "2.0", "speaker_label": "spk_0"}]}
    ]},
    "items": [
      {"start_time": "0.0", "end_time": "0.3", "type": "pronunciation", "alternatives": [{"content": "Hi"}]},
      {"start_time": "0.4", "end_time": "0.8", "type": "pronunciation", "alternatives": [{"content": "there"}]},
      {"type": "punctuation", "alternatives": [{"content": "."}]},
      {"start_time": "1.0", "end_time": "1.2", "type": "pronunciation", "alternatives": [{"content": "Hey"}], "speaker_label": "spk_1"},
      {"start_time": "1.3", "end_time": "1.6", "type": "pronunciation", "alternatives": [{"content": "you"}], "speaker_label": "spk_1"},
      {"type": "punctuation", "alternatives": [{"content": "."}]},
      {"start_time": "2.0", "end_time": "2.2", "type": "pronunciation", "alternatives": [{"content": "Ok"}], "speaker_label": "spk_0"},
      {"type": "punctuation", "alternatives": [{"content": "."}]}
    ]
  },
  "status": "COMPLETED"
}`

func TestCloudRecognizer_SubmitAndPoll(t *testing.T) {
	fake := &fakeTranscribe{statuses: []types.TranscriptionJobStatus{
		types.TranscriptionJobStatusInProgress,
		types.TranscriptionJobStatusCompleted,
	}}
	c := NewCloudRecognizer(CloudOptions{
		Client:       fake,
		OutputBucket: "stt-output",
		Transcripts:  fakeReader{"stt-1.json": awsTranscript},
		Settings:     RecognitionSettings{LanguageCode: "ko-KR", Diarization: true, MinSpeakers: 2, MaxSpeakers: 10},
		NewJobName:   func() string { return "stt-1" },
	})

	h, err := c.Submit(context.Background(), Audio{URI: "s3://stt-output/merged/abc/merged.flac"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !reflect.DeepEqual(h, Handle{Kind: KindCloud, OperationName: "stt-1"}) {
		t.Errorf("handle = %+v", h)
	}
	in := fake.started
	if in.MediaFormat != types.MediaFormatFlac || in.LanguageCode != types.LanguageCode("ko-KR") {
		t.Errorf("start input = %+v", in)
	}
	if aws.ToString(in.Media.MediaFileUri) != "s3://stt-output/merged/abc/merged.flac" || aws.ToString(in.OutputBucketName) != "stt-output" {
		t.Errorf("start input media/output wrong")
	}
	if in.Settings == nil || !aws.ToBool(in.Settings.ShowSpeakerLabels) || aws.ToInt32(in.Settings.MaxSpeakerLabels) != 10 {
		t.Errorf("settings = %+v", in.Settings)
	}

	pr, err := c.Poll(context.Background(), h)
	if err != nil || pr.Done {
		t.Fatalf("first poll = %+v, %v", pr, err)
	}
	if pr.Metadata["status"] != "IN_PROGRESS" {
		t.Errorf("metadata = %v", pr.Metadata)
	}

	pr, err = c.Poll(context.Background(), h)
	if err != nil || !pr.Done {
		t.Fatalf("second poll = %+v, %v", pr, err)
	}
	rows := Normalize(pr.Result)
	want := []Row{
		{Speaker: "Participant 1", Content: "Hi there.", Timestamp: 0, Index: 0},
		{Speaker: "Participant 2", Content: "Hey you.", Timestamp: 1.0, Index: 1},
		{Speaker: "Participant 1", Content: "Ok.", Timestamp: 2.0, Index: 2},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v", rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestCloudRecognizer_Errors(t *testing.T) {
	c := NewCloudRecognizer(CloudOptions{
		Client: &fakeTranscribe{statuses: []types.TranscriptionJobStatus{types.TranscriptionJobStatusFailed}, failure: "Unsupported media"},
	})
	if _, err := c.Submit(context.Background(), Audio{Path: "/tmp/merged.flac"}); err == nil {
		t.Error("expected error for non-s3 audio")
	}
	_, err := c.Poll(context.Background(), Handle{Kind: KindCloud, OperationName: "stt-x"})
	if !errors.Is(err, ErrJobFailed) {
		t.Errorf("err = %v, want ErrJobFailed", err)
	}

	notFound := &smithy.GenericAPIError{Code: "BadRequestException", Message: "The requested job couldn't be found"}
	c = NewCloudRecognizer(CloudOptions{Client: &fakeTranscribe{getErr: notFound}})
	_, err = c.Poll(context.Background(), Handle{Kind: KindCloud, OperationName: "stt-x"})
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("err = %v, want ErrUnknownJob", err)
	}
}

func TestCloudRecognizer_SampleRateAndModel(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		settings  RecognitionSettings
		wantRate  int32
		wantModel string
	}{
		{"stream copy declares capture rate", "s3://b/merged.webm", RecognitionSettings{SampleRateHertz: 48000}, 48000, ""},
		{"re-encoded flac auto-detects", "s3://b/merged.flac", RecognitionSettings{SampleRateHertz: 48000}, 0, ""},
		{"out of range rate dropped", "s3://b/merged.webm", RecognitionSettings{SampleRateHertz: 96000}, 0, ""},
		{"builtin model name is default", "s3://b/merged.webm", RecognitionSettings{SampleRateHertz: 16000, Model: "latest_long"}, 16000, ""},
		{"custom model", "s3://b/merged.flac", RecognitionSettings{Model: "meetings-ko-v2"}, 0, "meetings-ko-v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeTranscribe{}
			c := NewCloudRecognizer(CloudOptions{Client: fake, OutputBucket: "b", Settings: tt.settings})
			if _, err := c.Submit(context.Background(), Audio{URI: tt.uri}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if got := aws.ToInt32(fake.started.MediaSampleRateHertz); got != tt.wantRate {
				t.Errorf("MediaSampleRateHertz = %d, want %d", got, tt.wantRate)
			}
			var model string
			if fake.started.ModelSettings != nil {
				model = aws.ToString(fake.started.ModelSettings.LanguageModelName)
			}
			if model != tt.wantModel {
				t.Errorf("LanguageModelName = %q, want %q", model, tt.wantModel)
			}
		})
	}
}

func TestParseCloudTranscript_NoSpeakers(t *testing.T) {
	res, err := ParseCloudTranscript([]byte(`{"results":{"transcripts":[{"transcript":"plain text"}],
		"items":[{"start_time":"0.1","end_time":"0.4","type":"pronunciation","alternatives":[{"content":"plain"}]}]}}`))
	if err != nil {
		t.Fatalf("ParseCloudTranscript: %v", err)
	}
	rows := Normalize(res)
	if len(rows) != 1 || rows[0].Speaker != "Participant" || rows[0].Content != "plain text" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestMediaFormat(t *testing.T) {
	tests := map[string]types.MediaFormat{
		"s3://b/x.flac": types.MediaFormatFlac,
		"s3://b/x.M4A":  types.MediaFormatM4a,
		"s3://b/x.webm": types.MediaFormatWebm,
		"s3://b/x.bin":  "",
	}
	for in, want := range tests {
		if got := mediaFormat(in); got != want {
			t.Errorf("mediaFormat(%q) = %q, want %q", in, got, want)
		}
	}
}
