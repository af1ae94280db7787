package segment

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os/exec"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// ServiceScript is the segmentation helper started once per request.
const ServiceScript = "segment_service.py"

// maxLine bounds one JSON line from the helper; masks travel base64 encoded.
const maxLine = 64 << 20

// SubprocessProvider runs the segmentation model in a helper process.
//
// The request is written to stdin as one JSON object carrying the frame as a
// base64 JPEG. The helper answers with JSON lines: any number of
// {"type":"progress"} reports followed by one {"type":"mask"} with a base64
// PNG, or {"type":"error"}.
type SubprocessProvider struct {
	config Config
	python string
	script string
	log    zerolog.Logger
}

// NewSubprocessProvider creates a provider running script with python.
func NewSubprocessProvider(config Config, python, script string) *SubprocessProvider {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &SubprocessProvider{
		config: config,
		python: python,
		script: script,
		log:    log.With().Str("component", "segment").Logger(),
	}
}

type serviceRequest struct {
	Image  string   `json:"image"`
	Scene  string   `json:"scene"`
	Points [][2]int `json:"points,omitempty"`
}

type serviceLine struct {
	Type     string `json:"type"`
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	Mask     string `json:"mask"`
	Error    string `json:"error"`
}

// Segment implements Provider.
func (p *SubprocessProvider) Segment(ctx context.Context, req Request, progress ProgressFunc) (gocv.Mat, error) {
	if req.Frame.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}

	body, err := encodeRequest(req)
	if err != nil {
		return gocv.NewMat(), err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.python, p.script)
	cmd.Stdin = bytes.NewReader(body)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return gocv.NewMat(), fmt.Errorf("start segmentation service: %w", err)
	}
	p.log.Debug().Int("pid", cmd.Process.Pid).Str("scene", req.Scene).Msg("segmentation started")

	var encoded string
	var serviceErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	for scanner.Scan() {
		var line serviceLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			p.log.Debug().Str("line", scanner.Text()).Msg("ignoring non-JSON output")
			continue
		}
		switch line.Type {
		case "progress":
			report(progress, line.Step, line.Progress)
		case "mask":
			encoded = line.Mask
		case "error":
			serviceErr = errors.New(line.Error)
		}
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return gocv.NewMat(), fmt.Errorf("segmentation service: %w", ctx.Err())
	}
	if serviceErr != nil {
		return gocv.NewMat(), fmt.Errorf("segmentation service: %w", serviceErr)
	}
	if waitErr != nil {
		if stderr.Len() > 0 {
			return gocv.NewMat(), fmt.Errorf("segmentation service failed: %w, stderr: %s", waitErr, stderr.String())
		}
		return gocv.NewMat(), fmt.Errorf("segmentation service failed: %w", waitErr)
	}
	if scanErr != nil {
		return gocv.NewMat(), fmt.Errorf("read segmentation output: %w", scanErr)
	}
	if encoded == "" {
		return gocv.NewMat(), errors.New("segmentation service returned no mask")
	}

	return decodeMask(encoded, req.Frame.Cols(), req.Frame.Rows())
}

func encodeRequest(req Request) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, req.Frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	sr := serviceRequest{
		Image: base64.StdEncoding.EncodeToString(buf.GetBytes()),
		Scene: req.Scene,
	}
	if sr.Scene == "" {
		sr.Scene = SceneWall
	}
	for _, pt := range req.Points {
		sr.Points = append(sr.Points, [2]int{pt.X, pt.Y})
	}
	return json.Marshal(sr)
}

func decodeMask(encoded string, w, h int) (gocv.Mat, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: decode base64: %v", ErrInvalidMask, err)
	}
	mask, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: decode png: %v", ErrInvalidMask, err)
	}
	if mask.Empty() {
		mask.Close()
		return gocv.NewMat(), fmt.Errorf("%w: empty image", ErrInvalidMask)
	}
	if mask.Cols() != w || mask.Rows() != h {
		resized := gocv.NewMat()
		gocv.Resize(mask, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationNearestNeighbor)
		mask.Close()
		mask = resized
	}
	return mask, nil
}

// FallbackProvider tries Primary and falls back to Secondary on failure.
type FallbackProvider struct {
	Primary   Provider
	Secondary Provider
}

// Segment implements Provider.
func (f FallbackProvider) Segment(ctx context.Context, req Request, progress ProgressFunc) (gocv.Mat, error) {
	mask, err := f.Primary.Segment(ctx, req, progress)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return mask, err
	}
	mask.Close()
	log.Warn().Err(err).Msg("segmentation provider failed, using fallback")
	report(progress, "fallback", 60)
	return f.Secondary.Segment(ctx, req, progress)
}
