package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	c := NewClient("test-key", "test-model")
	c.BaseURL = url
	c.RetryStep = time.Millisecond
	return c
}

func replyWith(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := generateResponse{}
		resp.Candidates = []struct {
			Content content `json:"content"`
		}{
			{Content: content{Parts: []contentPart{{Text: text}}}},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  string
	}{
		{
			name:  "bare object",
			reply: `{"condition":"flu"}`,
			want:  `{"condition":"flu"}`,
		},
		{
			name:  "fenced block",
			reply: "Here you go:\n```json\n{\"condition\":\"flu\"}\n```\nStay safe.",
			want:  `{"condition":"flu"}`,
		},
		{
			name:  "fence without language tag",
			reply: "```\n{\"condition\":\"flu\"}\n```",
			want:  `{"condition":"flu"}`,
		},
		{
			name:  "prose around object",
			reply: `Sure. {"condition":"flu"} Let me know.`,
			want:  `{"condition":"flu"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.reply)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractJSONNoObject(t *testing.T) {
	_, err := ExtractJSON("I cannot help with that.")
	assert.ErrorIs(t, err, ErrMalformedReport)
}

func TestGenerateParsesReport(t *testing.T) {
	server := httptest.NewServer(replyWith("```json\n" +
		`{"condition":"seasonal allergy","severity":"low","summary":"Pollen reaction.","recommendations":["antihistamine","avoid outdoors in the morning"]}` +
		"\n```"))
	defer server.Close()

	client := newTestClient(server.URL)
	diagnosis, err := client.Generate(context.Background(), DiagnosisPrompt("itchy eyes and sneezing"), nil)
	require.NoError(t, err)
	assert.Equal(t, "seasonal allergy", diagnosis.Condition)
	assert.Equal(t, "low", diagnosis.Severity)
	assert.Len(t, diagnosis.Recommendations, 2)
}

func TestGenerateSendsImagesInline(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		replyWith(`{"condition":"rash","severity":"low","summary":"s","recommendations":[]}`)(w, r)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	images := []Image{{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}}
	_, err := client.Generate(context.Background(), "prompt", images)
	require.NoError(t, err)

	require.Len(t, got.Contents, 1)
	parts := got.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "prompt", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
	assert.Equal(t, "/9j/", parts[1].InlineData.Data)
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		replyWith(`{"condition":"flu","severity":"moderate","summary":"s","recommendations":[]}`)(w, r)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	diagnosis, err := client.Generate(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "flu", diagnosis.Condition)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateStopsAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Generate(context.Background(), "prompt", nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateClassifiesOversizedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Generate(context.Background(), "prompt", nil)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestGenerateClassifiesMalformedReply(t *testing.T) {
	server := httptest.NewServer(replyWith("I am unable to produce a report."))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Generate(context.Background(), "prompt", nil)
	assert.ErrorIs(t, err, ErrMalformedReport)
}

func TestLinearBackOffStepsGrow(t *testing.T) {
	b := newLinearBackOff(2 * time.Second)
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}
