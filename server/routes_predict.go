// routes_predict.go - Handler fuer Modell-Info und Vorhersagen
// Enthaelt: ShowHandler, PredictHandler, Einlesen der Bilder

package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/animus/plateocr/api"
	"github.com/animus/plateocr/predict"
	"github.com/animus/plateocr/vision"
)

// maxImages begrenzt die Bilder pro Anfrage
const maxImages = 64

// ShowHandler beschreibt das geladene Modell
func (s *Server) ShowHandler(c *gin.Context) {
	cfg := s.model.Config()
	stats := cfg.Stats()
	width, height := cfg.Size()

	c.JSON(http.StatusOK, api.ShowResponse{
		Path:        s.path,
		Schema:      cfg.Schema,
		ImageWidth:  width,
		ImageHeight: height,
		HiddenSize:  cfg.HiddenSize,
		MaxLabelLen: cfg.MaxLabelLen,
		Vocab:       cfg.Vocab,
		PixelMean:   stats.Mean,
		PixelStd:    stats.Std,
	})
}

// PredictHandler erkennt den Text in einem oder mehreren Bildern.
// Akzeptiert JSON (api.PredictRequest) oder multipart mit Feldern "image".
func (s *Server) PredictHandler(c *gin.Context) {
	checkpointStart := time.Now()

	images, err := readImages(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch {
	case len(images) == 0:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "image is required"})
		return
	case len(images) > maxImages:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("too many images: %d > %d", len(images), maxImages)})
		return
	}

	resp := api.PredictResponse{Predictions: make([]api.Prediction, 0, len(images))}
	for i, data := range images {
		img, err := vision.DecodeGray(data)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("image %d: %v", i, err)})
			return
		}

		pred, err := s.model.Predict(c.Request.Context(), predict.Input{Image: img})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, vision.ErrImageDecode) {
				status = http.StatusBadRequest
			}
			slog.Error("prediction failed", "image", i, "error", err)
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}

		resp.Predictions = append(resp.Predictions, api.Prediction{Text: pred.Text, Confidence: pred.Confidence})
	}

	resp.TotalDuration = time.Since(checkpointStart)
	c.JSON(http.StatusOK, resp)
}

func readImages(c *gin.Context) ([][]byte, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var req api.PredictRequest
		if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
			return nil, errors.New("missing request body")
		} else if err != nil {
			return nil, err
		}
		return req.Images, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}

	var images [][]byte
	for _, fh := range form.File["image"] {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		images = append(images, data)
	}
	return images, nil
}
