package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/artboard/internal/config"
	"github.com/hitoshi/artboard/internal/gallery"
	"github.com/hitoshi/artboard/internal/metrics"
	"github.com/hitoshi/artboard/internal/recraft"
	"github.com/hitoshi/artboard/internal/security"
)

// pushJob はPushgatewayに送信する際のジョブ名。
const pushJob = "artboard_image"

// imageOps は image サブコマンドで指定できる操作の一覧。
var imageOps = []string{
	recraft.OpGenerate,
	recraft.OpVectorize,
	recraft.OpRemoveBackground,
	recraft.OpClarityUpscale,
	recraft.OpGenerativeUpscale,
	recraft.OpCreateStyle,
	"list",
}

// imageAPI は image サブコマンドが利用する画像生成APIの操作。
type imageAPI interface {
	Generate(ctx context.Context, params recraft.GenerateParams) (*recraft.Result, error)
	Vectorize(ctx context.Context, file recraft.File) (*recraft.Result, error)
	RemoveBackground(ctx context.Context, file recraft.File) (*recraft.Result, error)
	ClarityUpscale(ctx context.Context, file recraft.File) (*recraft.Result, error)
	GenerativeUpscale(ctx context.Context, file recraft.File) (*recraft.Result, error)
	CreateStyle(ctx context.Context, params recraft.CreateStyleParams) (*recraft.Style, error)
}

// imageRunner は画像生成APIを1回呼び出し、結果をギャラリーに保存する。
type imageRunner struct {
	api   imageAPI
	store *gallery.Store
	out   io.Writer
}

// runImage は image サブコマンドを実行する。
// ベンダー設定のみを読み込み、呼び出しのメトリクスはPushgatewayが設定されていれば送信する。
func runImage(ctx context.Context, out io.Writer, args []string) error {
	cfg, err := config.LoadVendor()
	if err != nil {
		return fmt.Errorf("failed to load vendor config: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	client := recraft.NewClient(cfg.BaseURL, cfg.APIToken, cfg.Timeout, slog.Default())
	client.SetRecorder(collector)

	runner := &imageRunner{
		api:   client,
		store: gallery.NewStore(cfg.GalleryDir, security.NewSSRFGuard(), slog.Default()),
		out:   out,
	}
	runErr := runner.run(ctx, args)

	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(ctx, cfg.PushgatewayURL, pushJob, registry); err != nil {
			slog.Warn("failed to push metrics", slog.String("error", err.Error()))
		}
	}

	return runErr
}

// run は args[0] の操作を実行する。
func (r *imageRunner) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("image operation is required (%s)", strings.Join(imageOps, ", "))
	}

	op, rest := args[0], args[1:]
	switch op {
	case recraft.OpGenerate:
		return r.generate(ctx, rest)
	case recraft.OpVectorize:
		return r.editImage(ctx, op, rest, r.api.Vectorize)
	case recraft.OpRemoveBackground:
		return r.editImage(ctx, op, rest, r.api.RemoveBackground)
	case recraft.OpClarityUpscale:
		return r.editImage(ctx, op, rest, r.api.ClarityUpscale)
	case recraft.OpGenerativeUpscale:
		return r.editImage(ctx, op, rest, r.api.GenerativeUpscale)
	case recraft.OpCreateStyle:
		return r.createStyle(ctx, rest)
	case "list":
		return r.list()
	default:
		return fmt.Errorf("unknown image operation %q (%s)", op, strings.Join(imageOps, ", "))
	}
}

func (r *imageRunner) generate(ctx context.Context, args []string) error {
	var (
		params   recraft.GenerateParams
		controls recraft.Controls
	)

	fs := r.flagSet(recraft.OpGenerate)
	fs.StringVar(&params.Prompt, "prompt", "", "生成する画像の説明")
	fs.StringVar(&params.StyleID, "style-id", "", "作成済みスタイルのID")
	fs.StringVar(&params.Style, "style", "", "ベーススタイル")
	fs.StringVar(&params.Size, "size", recraft.DefaultSize, "画像サイズ")
	fs.StringVar(&params.Model, "model", recraft.DefaultModel, "モデル名")
	fs.StringVar(&params.NegativePrompt, "negative-prompt", "", "避けたい要素")
	fs.IntVar(&params.N, "n", 0, "生成枚数")
	fs.Float64Var(&controls.GuidanceScale, "guidance-scale", 0, "プロンプトへの追従度")
	fs.IntVar(&controls.NumInferenceSteps, "steps", 0, "推論ステップ数")
	fs.Float64Var(&controls.PromptStrength, "prompt-strength", 0, "プロンプトの強さ")
	if err := fs.Parse(args); err != nil {
		return err
	}
	params.Controls = &controls

	result, err := r.api.Generate(ctx, params)
	if err != nil {
		return err
	}

	return r.save(ctx, gallery.Meta{
		Tool:    recraft.OpGenerate,
		Prompt:  params.Prompt,
		StyleID: params.StyleID,
	}, result)
}

func (r *imageRunner) editImage(
	ctx context.Context,
	op string,
	args []string,
	call func(context.Context, recraft.File) (*recraft.Result, error),
) error {
	var path string
	fs := r.flagSet(op)
	fs.StringVar(&path, "file", "", "入力画像のパス")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if path == "" {
		return errors.New("-file is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input image: %w", err)
	}
	defer f.Close()

	result, err := call(ctx, recraft.File{Name: path, Content: f})
	if err != nil {
		return err
	}
	return r.save(ctx, gallery.Meta{Tool: op}, result)
}

func (r *imageRunner) createStyle(ctx context.Context, args []string) error {
	var (
		style string
		paths fileList
	)
	fs := r.flagSet(recraft.OpCreateStyle)
	fs.StringVar(&style, "style", "", "ベーススタイル")
	fs.Var(&paths, "file", "参照画像のパス（複数指定可）")
	if err := fs.Parse(args); err != nil {
		return err
	}

	files := make([]recraft.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open reference image: %w", err)
		}
		defer f.Close()
		files = append(files, recraft.File{Name: p, Content: f})
	}

	created, err := r.api.CreateStyle(ctx, recraft.CreateStyleParams{Style: style, Files: files})
	if err != nil {
		return err
	}

	rec, err := r.store.AddStyle(created.ID, style)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "style %s (%s)\n", rec.ID, rec.BaseStyle)
	return nil
}

func (r *imageRunner) list() error {
	idx, err := r.store.Load()
	if err != nil {
		return err
	}
	for _, img := range idx.Images {
		fmt.Fprintf(r.out, "image %s %s %s\n", img.ID, img.Tool, img.File)
	}
	for _, st := range idx.Styles {
		fmt.Fprintf(r.out, "style %s (%s)\n", st.ID, st.BaseStyle)
	}
	return nil
}

// save は結果画像をギャラリーに保存し、保存したファイルを出力する。
// 一部の保存に失敗した場合も保存済みの分は出力する。
func (r *imageRunner) save(ctx context.Context, meta gallery.Meta, result *recraft.Result) error {
	records, err := r.store.SaveResults(ctx, meta, result.URLs())
	for _, rec := range records {
		fmt.Fprintf(r.out, "saved %s\n", rec.File)
	}
	return err
}

func (r *imageRunner) flagSet(op string) *flag.FlagSet {
	fs := flag.NewFlagSet("image "+op, flag.ContinueOnError)
	fs.SetOutput(r.out)
	return fs
}

// fileList は繰り返し指定できる -file フラグ。
type fileList []string

func (l *fileList) String() string {
	return strings.Join(*l, ",")
}

func (l *fileList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
