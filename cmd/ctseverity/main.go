package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"ctseverity/internal/models"
	"ctseverity/pkg/config"
	"ctseverity/pkg/features"
	"ctseverity/pkg/pipeline"
	"ctseverity/pkg/unet"
	"ctseverity/pkg/visualization"
)

// exportPanels is how many prediction panels are written when mask
// export is enabled.
const exportPanels = 8

func main() {
	configPath := flag.String("config", "ctseverity.yaml", "Path to YAML configuration file")
	inputDir := flag.String("input", "", "Directory containing CT slice images")
	maskDir := flag.String("masks", "", "Directory containing binary masks for segmentation training")
	modelFile := flag.String("model-out", "", "Output file for trained segmentation weights")
	exportDir := flag.String("export", "", "Directory to save predicted-mask panels")
	skipSegmentation := flag.Bool("skip-segmentation", false, "Run only the classification pipeline")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the config file where provided.
	if *inputDir != "" {
		cfg.Input.SliceDir = *inputDir
	}
	if *maskDir != "" {
		cfg.Input.MaskDir = *maskDir
	}
	if *modelFile != "" {
		cfg.Segmentation.ModelFile = *modelFile
	}
	if *exportDir != "" {
		cfg.Output.MaskExportDir = *exportDir
	}

	if cfg.Input.SliceDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if cfg.Output.Verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	fmt.Println("================================")
	fmt.Println("CT SLICE SEVERITY GRADING AND SEGMENTATION PIPELINE")
	fmt.Println("================================")

	// Classification pipeline: load, score, grade, embed, reduce, fit.
	extractor, err := features.NewExtractor(cfg.Features.ModelPath, cfg.Features.MetadataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize feature extractor")
	}
	defer extractor.Close()

	params := &pipeline.Params{
		SliceDir:    cfg.Input.SliceDir,
		ImageSize:   cfg.Input.ImageSize,
		ReducedDims: cfg.Features.ReducedDims,
	}

	p := pipeline.New(params, extractor, log)

	startTime := time.Now()
	if err := p.Process(); err != nil {
		log.Fatal().Err(err).Msg("classification pipeline failed")
	}

	metrics := p.GetMetrics()
	fmt.Printf("\nClassification pipeline completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("\nDataset summary:\n")
	fmt.Printf("================\n")
	for _, plane := range models.Planes {
		fmt.Printf("%-9s slices: %d\n", plane, metrics.PlaneCounts[plane])
	}
	fmt.Printf("\nSeverity grades:\n")
	for label := models.SeverityLabel(0); label < models.NumLabels; label++ {
		fmt.Printf("%-9s: %d\n", label, metrics.LabelCounts[label])
	}
	fmt.Printf("\nEmbedding dimensionality: %d -> %d after reduction\n",
		metrics.EmbeddingDim, metrics.ReducedDims)
	fmt.Printf("Classifier training accuracy: %.2f%%\n", metrics.TrainingAccuracy*100)

	if *skipSegmentation || cfg.Input.MaskDir == "" {
		if cfg.Input.MaskDir == "" {
			log.Info().Msg("no mask directory configured, skipping segmentation training")
		}
		return
	}

	// Segmentation: independent of the classifier, trained on the same
	// image domain against the paired masks.
	fmt.Println("\nTraining segmentation network...")

	pairs, err := unet.BuildPairs(p.Dataset().All(), cfg.Input.MaskDir, cfg.Input.ImageSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to pair slices with masks")
	}

	net, err := unet.New(unet.Config{
		InputSize:   cfg.Input.ImageSize,
		BaseFilters: cfg.Segmentation.BaseFilters,
		Dropout:     cfg.Segmentation.Dropout,
		Seed:        time.Now().UnixNano(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build segmentation network")
	}

	trainer, err := unet.NewTrainer(net, unet.TrainConfig{
		Epochs:          cfg.Segmentation.Epochs,
		BatchSize:       cfg.Segmentation.BatchSize,
		LearningRate:    cfg.Segmentation.LearningRate,
		Momentum:        cfg.Segmentation.Momentum,
		ValidationSplit: cfg.Segmentation.ValidationSplit,
		Seed:            1,
		Augment:         true,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure trainer")
	}

	trainStart := time.Now()
	trainLoss, valLoss, err := trainer.Train(pairs)
	if err != nil {
		log.Fatal().Err(err).Msg("segmentation training failed")
	}

	fmt.Printf("\nSegmentation training completed in %.2f seconds\n", time.Since(trainStart).Seconds())
	fmt.Printf("Final training loss: %.4f\n", trainLoss)
	fmt.Printf("Final validation loss: %.4f\n", valLoss)

	if err := net.SaveFile(cfg.Segmentation.ModelFile); err != nil {
		log.Fatal().Err(err).Msg("failed to save segmentation weights")
	}
	fmt.Printf("Trained weights saved to: %s\n", cfg.Segmentation.ModelFile)

	if cfg.Output.MaskExportDir != "" {
		fmt.Printf("Exporting prediction panels to: %s\n", cfg.Output.MaskExportDir)
		if err := exportPredictions(net, pairs, cfg.Input.ImageSize, cfg.Output.MaskExportDir); err != nil {
			log.Error().Err(err).Msg("failed to export prediction panels")
		}
	}
}

// exportPredictions writes slice/mask/prediction panels for the first
// few pairs.
func exportPredictions(net *unet.Net, pairs []unet.Pair, size int, dir string) error {
	n := exportPanels
	if n > len(pairs) {
		n = len(pairs)
	}

	items := make([][][]float64, 0, n)
	for _, pair := range pairs[:n] {
		pred, err := net.Predict(pair.Image)
		if err != nil {
			return err
		}
		items = append(items, [][]float64{pair.Image, pair.Mask, pred})
	}

	return visualization.NewExporter(size).SavePanelSequence(dir, items)
}
