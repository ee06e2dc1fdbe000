package scanning

import (
	"bytes"
	"context"
	"fmt"
	"time"

	vision "cloud.google.com/go/vision/apiv1"
	"google.golang.org/api/option"
)

// VisionOCR implements the TextRecognizer interface using the Google Cloud
// Vision text detection API.
type VisionOCR struct {
	client *vision.ImageAnnotatorClient
}

// NewVisionOCR creates a new VisionOCR instance. credentialsFile may be empty,
// in which case Application Default Credentials are used.
func NewVisionOCR(ctx context.Context, credentialsFile string) (*VisionOCR, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}

	return &VisionOCR{client: client}, nil
}

// RecognizeText runs text detection on a receipt image and returns the full
// extracted text. Non-PNG input (HEIC, PDF, JPEG) is converted first.
func (v *VisionOCR) RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pngData, _, err := PrepareImage(imageData, contentType)
	if err != nil {
		return "", err
	}

	img, err := vision.NewImageFromReader(bytes.NewReader(pngData))
	if err != nil {
		return "", fmt.Errorf("building vision image: %w", err)
	}

	annotations, err := v.client.DetectTexts(ctx, img, nil, 1)
	if err != nil {
		return "", fmt.Errorf("detecting text: %w", err)
	}

	// The first annotation carries the full text of the image; the rest are
	// per-word boxes we don't need.
	if len(annotations) == 0 || annotations[0].Description == "" {
		return "", fmt.Errorf("no text found in image")
	}

	return annotations[0].Description, nil
}

// Close closes the Vision client
func (v *VisionOCR) Close() error {
	return v.client.Close()
}
