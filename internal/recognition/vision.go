package recognition

import (
	"context"
	"errors"
	"fmt"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxLabelResults = 20

type annotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
}

// VisionProvider uses Google Cloud Vision with the snapshot URL as the image source.
type VisionProvider struct {
	client annotator
	closer func() error
}

// NewVisionProvider dials Cloud Vision. An empty credentialsFile falls back to
// application default credentials.
func NewVisionProvider(ctx context.Context, credentialsFile string) (*VisionProvider, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &VisionProvider{client: c, closer: c.Close}, nil
}

func (v *VisionProvider) Close() error {
	if v.closer == nil {
		return nil
	}
	return v.closer()
}

func (v *VisionProvider) DetectLabels(ctx context.Context, imageRef string) ([]string, error) {
	res, err := v.annotate(ctx, "labels", imageRef, &visionpb.Feature{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: maxLabelResults})
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(res.GetLabelAnnotations()))
	for _, l := range res.GetLabelAnnotations() {
		labels = append(labels, l.GetDescription())
	}
	return labels, nil
}

func (v *VisionProvider) DetectText(ctx context.Context, imageRef string) ([]string, error) {
	res, err := v.annotate(ctx, "text", imageRef, &visionpb.Feature{Type: visionpb.Feature_TEXT_DETECTION})
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(res.GetTextAnnotations()))
	for _, t := range res.GetTextAnnotations() {
		texts = append(texts, t.GetDescription())
	}
	return texts, nil
}

func (v *VisionProvider) annotate(ctx context.Context, op, imageRef string, feature *visionpb.Feature) (*visionpb.AnnotateImageResponse, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Source: &visionpb.ImageSource{ImageUri: imageRef}},
			Features: []*visionpb.Feature{feature},
		}},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, &RecognitionError{Op: op, Code: status.Code(err).String(), Err: err}
	}
	if len(resp.GetResponses()) == 0 {
		return nil, &RecognitionError{Op: op, Code: codes.Internal.String(), Err: errors.New("empty batch response")}
	}

	res := resp.GetResponses()[0]
	if e := res.GetError(); e != nil && e.GetCode() != int32(codes.OK) {
		code := codes.Code(e.GetCode())
		return nil, &RecognitionError{
			Op:   op,
			Code: code.String(),
			Err:  fmt.Errorf("%s\nFor more info on error messages, check: https://cloud.google.com/apis/design/errors", e.GetMessage()),
		}
	}
	return res, nil
}
