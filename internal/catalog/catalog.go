// Package catalog batch-processes a folder of images into collectible
// metadata: each image is uploaded to object storage and captioned by the
// vision model, and a metadata JSON file is written per image for the
// downstream minting tooling.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/immanencer/ratimint/internal/responder"
)

const (
	captionPrompt        = "Write a short, humorous caption for this image:"
	sellerFeeBasisPoints = 500
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Uploader stores a local image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, filePath string) (string, error)
}

type Metadata struct {
	Name                 string     `json:"name"`
	Symbol               string     `json:"symbol"`
	Description          string     `json:"description"`
	SellerFeeBasisPoints int        `json:"seller_fee_basis_points"`
	Image                string     `json:"image"`
	Attributes           []any      `json:"attributes"`
	Properties           Properties `json:"properties"`
}

type Properties struct {
	Files    []FileRef `json:"files"`
	Category string    `json:"category"`
}

type FileRef struct {
	URI  string `json:"uri"`
	Type string `json:"type"`
}

type Generator struct {
	uploader  Uploader
	llm       responder.Completer
	system    string
	imagesDir string
	assetsDir string
}

func NewGenerator(uploader Uploader, llm responder.Completer, system, imagesDir, assetsDir string) *Generator {
	return &Generator{
		uploader:  uploader,
		llm:       llm,
		system:    system,
		imagesDir: imagesDir,
		assetsDir: assetsDir,
	}
}

// Run processes every image in the images folder. It stops on the first
// failure: half a catalog is worse than none, and the batch is idempotent to
// re-run.
func (g *Generator) Run(ctx context.Context) error {
	entries, err := os.ReadDir(g.imagesDir)
	if err != nil {
		return fmt.Errorf("read images dir: %w", err)
	}

	if err := os.MkdirAll(g.assetsDir, 0755); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}

	index := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !imageExts[ext] {
			continue
		}

		log.Printf("[catalog] processing %s...", entry.Name())
		if err := g.processImage(ctx, entry.Name(), ext, index); err != nil {
			return fmt.Errorf("process %s: %w", entry.Name(), err)
		}
		index++
	}

	log.Printf("[catalog] processed %d images", index)
	return nil
}

func (g *Generator) processImage(ctx context.Context, name, ext string, index int) error {
	imageURL, err := g.uploader.Upload(ctx, filepath.Join(g.imagesDir, name))
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	log.Printf("[catalog] uploaded: %s", imageURL)

	description, err := g.llm.Complete(ctx, g.system, []responder.Turn{
		{Content: captionPrompt, ImageURL: imageURL},
	})
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}

	meta := Metadata{
		Name:                 strings.TrimSuffix(name, ext),
		Description:          strings.TrimSpace(description),
		SellerFeeBasisPoints: sellerFeeBasisPoints,
		Image:                imageURL,
		Attributes:           []any{},
		Properties: Properties{
			Files: []FileRef{
				{URI: imageURL, Type: "image/" + strings.TrimPrefix(ext, ".")},
			},
			Category: "image",
		},
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	metaPath := filepath.Join(g.assetsDir, fmt.Sprintf("%d.json", index))
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	log.Printf("[catalog] created metadata for %s", name)
	return nil
}
