package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

func manifest(id string) *apptype.Manifest {
	return &apptype.Manifest{
		SessionID:        id,
		Attempt:          2,
		CommittedAt:      "2024-05-01T10:00:00Z",
		CreatedEntityIDs: []string{"e1"},
		ReusedEntityIDs:  []string{"e2"},
		RejectedItems:    []apptype.RejectedItem{{Ref: "r1", Kind: "relationship", ErrorKind: "ontology_violation", Reason: "HOSTS not permitted"}},
	}
}

func TestFileSinkAppendsJSONLines(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audit.jsonl")
	sink := NewFileSink(p)
	ctx := context.Background()
	require.NoError(t, sink.Publish(ctx, manifest("s1")))
	require.NoError(t, sink.Publish(ctx, manifest("s2")))

	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m apptype.Manifest
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		ids = append(ids, m.SessionID)
	}
	assert.Equal(t, []string{"s1", "s2"}, ids)
}

type fakePutter struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkKeysBySessionAndAttempt(t *testing.T) {
	fp := &fakePutter{objects: map[string][]byte{}}
	sink := newS3Sink(fp, S3Config{Bucket: "audit", Prefix: "/manifests/"})

	require.NoError(t, sink.Publish(context.Background(), manifest("s1")))
	body, ok := fp.objects["audit/manifests/s1/2.json"]
	require.True(t, ok)
	var m apptype.Manifest
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, []string{"e1"}, m.CreatedEntityIDs)

	fp.err = errors.New("access denied")
	err := sink.Publish(context.Background(), manifest("s1"))
	assert.ErrorContains(t, err, "access denied")
}

type recordingTransport struct {
	mu   sync.Mutex
	puts []string
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	rt.puts = append(rt.puts, req.Method+" "+req.URL.Path)
	rt.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}, nil
}

func TestS3SinkWithSDKClient(t *testing.T) {
	rt := &recordingTransport{}
	sink, err := NewS3Sink(context.Background(),
		S3Config{Bucket: "audit", Endpoint: "https://s3.test.local", PathStyle: true},
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
		config.WithHTTPClient(&http.Client{Transport: rt}),
	)
	require.NoError(t, err)

	require.NoError(t, sink.Publish(context.Background(), manifest("s9")))
	assert.Equal(t, []string{"PUT /audit/s9/2.json"}, rt.puts)
}

func TestNewFromEnv(t *testing.T) {
	ctx := context.Background()

	t.Setenv("AUDIT_SINK", "none")
	s, err := NewFromEnv(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	t.Setenv("AUDIT_SINK", "log, file")
	t.Setenv("AUDIT_FILE", filepath.Join(t.TempDir(), "a.jsonl"))
	s, err = NewFromEnv(ctx)
	require.NoError(t, err)
	require.IsType(t, MultiSink{}, s)
	assert.Len(t, s.(MultiSink), 2)
	assert.NoError(t, s.Publish(ctx, manifest("s1")))

	t.Setenv("AUDIT_SINK", "s3")
	t.Setenv("AUDIT_S3_BUCKET", "")
	_, err = NewFromEnv(ctx)
	assert.Error(t, err)

	t.Setenv("AUDIT_SINK", "kafka")
	_, err = NewFromEnv(ctx)
	assert.Error(t, err)
}
