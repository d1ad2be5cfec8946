package recognition

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	statuspb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsRelevant(t *testing.T) {
	assert.True(t, IsRelevant([]string{"Tree", "Car"}, DefaultLabels))
	assert.True(t, IsRelevant([]string{"Vehicle registration plate"}, DefaultLabels))
	assert.False(t, IsRelevant([]string{"Tree", "Sky"}, DefaultLabels))
	assert.False(t, IsRelevant(nil, DefaultLabels))
	assert.False(t, IsRelevant([]string{"car"}, DefaultLabels), "match is case-sensitive")
}

func TestCandidates(t *testing.T) {
	got := Candidates([]string{"ABC 123\n", "ABC", "123", " XYZ\n789 \n", "\n"})
	assert.Equal(t, []string{"ABC 123", "XYZ789"}, got)

	assert.Equal(t, []string{}, Candidates(nil))
	assert.Equal(t, []string{}, Candidates([]string{"no newline"}))
}

type stubProvider struct {
	labels []string
	texts  []string
	err    error
}

func (s stubProvider) DetectLabels(ctx context.Context, ref string) ([]string, error) {
	return s.labels, s.err
}

func (s stubProvider) DetectText(ctx context.Context, ref string) ([]string, error) {
	return s.texts, s.err
}

func TestClassifierAndRecognizer(t *testing.T) {
	p := stubProvider{labels: []string{"Car"}, texts: []string{"KA01 AB1234\n", "KA01", "AB1234"}}

	labels, err := NewClassifier(p).Classify(context.Background(), "img")
	require.NoError(t, err)
	assert.Equal(t, []string{"Car"}, labels)

	plates, err := NewRecognizer(p).Recognize(context.Background(), "img")
	require.NoError(t, err)
	assert.Equal(t, []string{"KA01 AB1234"}, plates)
}

func TestClassifier_EmptyIsNotError(t *testing.T) {
	labels, err := NewClassifier(stubProvider{}).Classify(context.Background(), "img")
	require.NoError(t, err)
	assert.Equal(t, []string{}, labels)
}

func TestClassifier_WrapsProviderError(t *testing.T) {
	_, err := NewClassifier(stubProvider{err: errors.New("quota")}).Classify(context.Background(), "img")

	var re *RecognitionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "labels", re.Op)
}

type fakeAnnotator struct {
	resp *visionpb.BatchAnnotateImagesResponse
	err  error
	got  *visionpb.BatchAnnotateImagesRequest
}

func (f *fakeAnnotator) BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	f.got = req
	return f.resp, f.err
}

func TestVision_Labels(t *testing.T) {
	fa := &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{
			LabelAnnotations: []*visionpb.EntityAnnotation{{Description: "Car"}, {Description: "Wheel"}},
		}},
	}}
	v := &VisionProvider{client: fa}

	labels, err := v.DetectLabels(context.Background(), "https://snap/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"Car", "Wheel"}, labels)

	req := fa.got.GetRequests()[0]
	assert.Equal(t, "https://snap/1.jpg", req.GetImage().GetSource().GetImageUri())
	assert.Equal(t, visionpb.Feature_LABEL_DETECTION, req.GetFeatures()[0].GetType())
}

func TestVision_Text(t *testing.T) {
	fa := &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{
			TextAnnotations: []*visionpb.EntityAnnotation{{Description: "SGX 1234A\n"}, {Description: "SGX"}},
		}},
	}}
	v := &VisionProvider{client: fa}

	texts, err := v.DetectText(context.Background(), "https://snap/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"SGX 1234A\n", "SGX"}, texts)
	assert.Equal(t, visionpb.Feature_TEXT_DETECTION, fa.got.GetRequests()[0].GetFeatures()[0].GetType())
}

func TestVision_ResponseError(t *testing.T) {
	fa := &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{
			Error: &statuspb.Status{Code: int32(codes.InvalidArgument), Message: "Bad image data"},
		}},
	}}
	v := &VisionProvider{client: fa}

	_, err := v.DetectText(context.Background(), "x")
	var re *RecognitionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "InvalidArgument", re.Code)
	assert.Contains(t, err.Error(), "Bad image data")
}

func TestVision_RPCError(t *testing.T) {
	fa := &fakeAnnotator{err: status.Error(codes.ResourceExhausted, "quota")}
	v := &VisionProvider{client: fa}

	_, err := v.DetectLabels(context.Background(), "x")
	var re *RecognitionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "ResourceExhausted", re.Code)
}

type fakeGenerator struct {
	answer string
	err    error
	calls  []*genai.Content
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls = append(f.calls, contents...)
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.answer}}},
		}},
	}, nil
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGemini_TextMapsToAnnotations(t *testing.T) {
	srv := imageServer(t)
	gen := &fakeGenerator{answer: "```json\n{\"full_text\": \"SGX 1234A\", \"words\": [\"SGX\", \"1234A\"]}\n```"}
	g := newGeminiProvider(gen, "", srv.Client())

	texts, err := g.DetectText(context.Background(), srv.URL+"/snap.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"SGX 1234A\n", "SGX", "1234A"}, texts)
	assert.Equal(t, []string{"SGX 1234A"}, Candidates(texts))

	require.Len(t, gen.calls, 1)
	assert.Equal(t, "image/jpeg", gen.calls[0].Parts[0].InlineData.MIMEType)
}

func TestGemini_NoText(t *testing.T) {
	srv := imageServer(t)
	g := newGeminiProvider(&fakeGenerator{answer: `{"full_text": "", "words": []}`}, "", srv.Client())

	texts, err := g.DetectText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, texts)
}

func TestGemini_Labels(t *testing.T) {
	srv := imageServer(t)
	g := newGeminiProvider(&fakeGenerator{answer: `Sure: {"labels": ["Car", "Vehicle"]}`}, "", srv.Client())

	labels, err := g.DetectLabels(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"Car", "Vehicle"}, labels)
}

func TestGemini_BadJSON(t *testing.T) {
	srv := imageServer(t)
	g := newGeminiProvider(&fakeGenerator{answer: "I cannot tell"}, "", srv.Client())

	_, err := g.DetectLabels(context.Background(), srv.URL)
	var re *RecognitionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "INVALID_RESPONSE", re.Code)
}

func TestGemini_ImageFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	g := newGeminiProvider(&fakeGenerator{}, "", srv.Client())

	_, err := g.DetectText(context.Background(), srv.URL)
	var re *RecognitionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "IMAGE_FETCH", re.Code)
}
