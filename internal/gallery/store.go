// Package gallery は画像生成APIの結果をローカルディレクトリに保存する。
// 画像ファイルとJSONインデックス（画像と作成済みスタイルの一覧）を管理する。
package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/artboard/internal/security"
)

const (
	// IndexFile はギャラリーディレクトリ内のインデックスファイル名。
	IndexFile = "index.json"
	// DefaultMaxImageBytes は1画像あたりのダウンロード上限。
	DefaultMaxImageBytes = 50 << 20
	// downloadTimeout は1画像のダウンロードのタイムアウト。
	downloadTimeout = 60 * time.Second
	defaultExt      = ".png"
)

// ErrImageTooLarge は画像がダウンロード上限を超えたことを表す。
var ErrImageTooLarge = errors.New("image exceeds size limit")

// Record はギャラリーに保存した画像1件のメタデータ。
type Record struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	Prompt    string    `json:"prompt,omitempty"`
	StyleID   string    `json:"style_id,omitempty"`
	SourceURL string    `json:"source_url"`
	File      string    `json:"file"`
	CreatedAt time.Time `json:"created_at"`
}

// StyleRecord は作成済みスタイル1件。
type StyleRecord struct {
	ID        string    `json:"id"`
	BaseStyle string    `json:"base_style"`
	CreatedAt time.Time `json:"created_at"`
}

// Index はギャラリーのインデックス。
type Index struct {
	Images []Record      `json:"images"`
	Styles []StyleRecord `json:"styles"`
}

// Meta は結果画像に付与するメタデータ。
type Meta struct {
	Tool    string
	Prompt  string
	StyleID string
}

// Store はギャラリーディレクトリへの保存を行う。
// インデックスの読み書きはプロセス内で直列化する。
type Store struct {
	dir      string
	client   *http.Client
	validate func(string) error
	maxBytes int64
	logger   *slog.Logger

	now   func() time.Time
	newID func() string

	mu sync.Mutex
}

// NewStore はStoreの新しいインスタンスを生成する。
// 結果URLはguardで検証し、guardが生成したクライアントでダウンロードする。
func NewStore(dir string, guard security.SSRFGuardService, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:      dir,
		client:   guard.NewSafeClient(downloadTimeout),
		validate: guard.ValidateURL,
		maxBytes: DefaultMaxImageBytes,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Dir はギャラリーディレクトリのパスを返す。
func (s *Store) Dir() string {
	return s.dir
}

// SaveResults は結果URLの画像をすべてダウンロードしてインデックスに追記する。
// 途中で失敗した場合、それまでに保存した分はインデックスに残す。
func (s *Store) SaveResults(ctx context.Context, meta Meta, urls []string) ([]Record, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("ギャラリーディレクトリの作成に失敗しました: %w", err)
	}

	records := make([]Record, 0, len(urls))
	var downloadErr error
	for _, u := range urls {
		rec, err := s.download(ctx, meta, u)
		if err != nil {
			downloadErr = fmt.Errorf("画像のダウンロードに失敗しました (%s): %w", u, err)
			break
		}
		records = append(records, rec)
		s.logger.Info("画像をギャラリーに保存しました",
			slog.String("id", rec.ID),
			slog.String("tool", rec.Tool),
			slog.String("file", rec.File),
		)
	}

	if len(records) > 0 {
		if err := s.update(func(idx *Index) {
			idx.Images = append(idx.Images, records...)
		}); err != nil {
			return records, err
		}
	}
	return records, downloadErr
}

// AddStyle は作成済みスタイルをインデックスに記録する。
// 同じIDが既にある場合は何もしない。
func (s *Store) AddStyle(id, baseStyle string) (StyleRecord, error) {
	rec := StyleRecord{ID: id, BaseStyle: baseStyle, CreatedAt: s.now().UTC()}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return rec, fmt.Errorf("ギャラリーディレクトリの作成に失敗しました: %w", err)
	}

	err := s.update(func(idx *Index) {
		for _, st := range idx.Styles {
			if st.ID == id {
				rec = st
				return
			}
		}
		idx.Styles = append(idx.Styles, rec)
	})
	return rec, err
}

// Load はインデックスを読み込む。ファイルが無い場合は空のインデックスを返す。
func (s *Store) Load() (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*Index, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, IndexFile))
	if errors.Is(err, os.ErrNotExist) {
		return &Index{Images: []Record{}, Styles: []StyleRecord{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("インデックスの読み込みに失敗しました: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("インデックスのパースに失敗しました: %w", err)
	}
	if idx.Images == nil {
		idx.Images = []Record{}
	}
	if idx.Styles == nil {
		idx.Styles = []StyleRecord{}
	}
	return &idx, nil
}

// update はインデックスを読み込んでfnで変更し、アトミックに書き戻す。
func (s *Store) update(fn func(*Index)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load()
	if err != nil {
		return err
	}
	fn(idx)

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("インデックスのエンコードに失敗しました: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, IndexFile), data)
}

// download は1件の画像を検証済みクライアントで取得して保存する。
func (s *Store) download(ctx context.Context, meta Meta, rawURL string) (Record, error) {
	if err := s.validate(rawURL); err != nil {
		return Record{}, fmt.Errorf("URLの検証に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Record{}, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Record{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Record{}, fmt.Errorf("ステータス %d が返されました", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return Record{}, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return Record{}, ErrImageTooLarge
	}

	id := s.newID()
	name := id + extension(rawURL, resp.Header.Get("Content-Type"))
	if err := writeFileAtomic(filepath.Join(s.dir, name), data); err != nil {
		return Record{}, err
	}

	return Record{
		ID:        id,
		Tool:      meta.Tool,
		Prompt:    meta.Prompt,
		StyleID:   meta.StyleID,
		SourceURL: rawURL,
		File:      name,
		CreatedAt: s.now().UTC(),
	}, nil
}

// extension は保存ファイルの拡張子を決める。
// URLのパスの拡張子を優先し、無ければContent-Typeから推定する。
func extension(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); isImageExt(ext) {
			return ext
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "image/png":
			return ".png"
		case "image/jpeg":
			return ".jpg"
		case "image/webp":
			return ".webp"
		case "image/svg+xml":
			return ".svg"
		}
	}
	return defaultExt
}

func isImageExt(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp", ".svg", ".gif":
		return true
	}
	return false
}

// writeFileAtomic は一時ファイルに書き込んでからリネームする。
func writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("ファイルの配置に失敗しました: %w", err)
	}
	return nil
}
