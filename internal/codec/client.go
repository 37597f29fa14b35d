// Package codec is the client for the inference sidecar: a gRPC service that
// hosts the language model, the embedding model, and the image and speech
// perception models. Messages are google.protobuf.Struct documents, so the
// sidecar can evolve its fields without regenerating stubs.
package codec

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
)

// #region methods
const (
	methodGenerate     = "/incident.inference.v1.Inference/Generate"
	methodEmbed        = "/incident.inference.v1.Inference/Embed"
	methodAnalyzeImage = "/incident.inference.v1.Inference/AnalyzeImage"
	methodTranscribe   = "/incident.inference.v1.Inference/Transcribe"
)

// #endregion methods

// #region types
// GenerateResult holds the response from a Generate call.
type GenerateResult struct {
	Text  string
	Model string
}

// Options configures per-call deadlines. Zero values disable the deadline.
type Options struct {
	GenerateTimeout   time.Duration
	EmbedTimeout      time.Duration
	PerceptionTimeout time.Duration
}

// #endregion types

// #region client-struct
// CodecClient wraps the gRPC connection to the inference sidecar.
type CodecClient struct {
	conn grpc.ClientConnInterface
	opts Options
}

// #endregion client-struct

// #region constructor
// NewCodecClient creates a lazily connecting client for addr.
func NewCodecClient(addr string, opts Options) (*CodecClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &CodecClient{conn: conn, opts: opts}, nil
}

// NewCodecClientWithConn creates a CodecClient over an existing connection.
// Tests pass an in-process fake.
func NewCodecClientWithConn(conn grpc.ClientConnInterface, opts Options) *CodecClient {
	return &CodecClient{conn: conn, opts: opts}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection if the client owns one.
func (c *CodecClient) Close() error {
	if closer, ok := c.conn.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// #endregion close

// #region invoke
func (c *CodecClient) call(ctx context.Context, method string, timeout time.Duration, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func field(s *structpb.Struct, name string) *structpb.Value {
	if s == nil {
		return nil
	}
	return s.GetFields()[name]
}

// #endregion invoke

// #region generate
// Generate sends a prompt to the language model.
func (c *CodecClient) Generate(ctx context.Context, prompt string) (GenerateResult, error) {
	resp, err := c.call(ctx, methodGenerate, c.opts.GenerateTimeout, map[string]any{
		"prompt": prompt,
	})
	if err != nil {
		return GenerateResult{}, fmt.Errorf("generate rpc: %w", err)
	}
	return GenerateResult{
		Text:  field(resp, "text").GetStringValue(),
		Model: field(resp, "model").GetStringValue(),
	}, nil
}

// Complete returns only the generated text.
func (c *CodecClient) Complete(ctx context.Context, prompt string) (string, error) {
	res, err := c.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// #endregion generate

// #region embed
// Embed sends text to the sidecar for embedding.
func (c *CodecClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.call(ctx, methodEmbed, c.opts.EmbedTimeout, map[string]any{
		"text": text,
	})
	if err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}
	values := field(resp, "embedding").GetListValue().GetValues()
	if len(values) == 0 {
		return nil, errors.New("embed rpc: empty embedding")
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.GetNumberValue())
	}
	return vec, nil
}

// #endregion embed

// #region analyze-image
// AnalyzeImage runs object detection, OCR and captioning on one image.
func (c *CodecClient) AnalyzeImage(ctx context.Context, image []byte) (incident.VisionObservation, error) {
	resp, err := c.call(ctx, methodAnalyzeImage, c.opts.PerceptionTimeout, map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return incident.VisionObservation{}, fmt.Errorf("analyze image rpc: %w", err)
	}
	obs := incident.VisionObservation{
		Processed: true,
		People:    int(field(resp, "people").GetNumberValue()),
		Text:      field(resp, "text").GetStringValue(),
		Caption:   field(resp, "caption").GetStringValue(),
	}
	for _, v := range field(resp, "objects").GetListValue().GetValues() {
		o := v.GetStructValue()
		obs.Objects = append(obs.Objects, incident.DetectedObject{
			Name:       field(o, "name").GetStringValue(),
			Confidence: field(o, "confidence").GetNumberValue(),
		})
	}
	return obs, nil
}

// #endregion analyze-image

// #region transcribe
// Transcribe converts one audio clip to text.
func (c *CodecClient) Transcribe(ctx context.Context, audio []byte) (incident.AudioObservation, error) {
	resp, err := c.call(ctx, methodTranscribe, c.opts.PerceptionTimeout, map[string]any{
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		return incident.AudioObservation{}, fmt.Errorf("transcribe rpc: %w", err)
	}
	obs := incident.AudioObservation{
		Processed:  true,
		Transcript: field(resp, "transcript").GetStringValue(),
		Language:   field(resp, "language").GetStringValue(),
	}
	if v := field(resp, "confidence"); v != nil {
		conf := v.GetNumberValue()
		obs.Confidence = &conf
	}
	return obs, nil
}

// #endregion transcribe
