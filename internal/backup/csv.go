package backup

import (
	"bytes"
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/spotify-backup/internal/model"
)

// addedAtLayout は追加日時の書式。UTCを「Z」ではなく「+00:00」で表す。
const addedAtLayout = "2006-01-02T15:04:05+00:00"

// csvHeader はバックアップCSVのヘッダー行。
var csvHeader = []string{"added at", "release date", "name", "album", "artist(s)", "id"}

// RenderCSV はお気に入りの曲をCSVに変換する。
// 行の順序は渡された順序を保つ。追加日時はUTCのRFC3339（+00:00表記）、アーティストは「+」区切り。
func RenderCSV(tracks []model.Track) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("CSVヘッダーの書き込みに失敗しました: %w", err)
	}

	for _, t := range tracks {
		record := []string{
			t.AddedAt.UTC().Format(addedAtLayout),
			t.ReleaseDate,
			t.Name,
			t.Album,
			strings.Join(t.Artists, "+"),
			"spotify:track:" + t.ID,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("CSVレコードの書き込みに失敗しました (track %s): %w", t.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSVのフラッシュに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

// GitBlobSHA はgitがcontentをblobとして保存した場合のオブジェクトIDを返す。
// GitHubのContents APIが返すshaと一致するため、コミット前の変更検知に使う。
func GitBlobSHA(content []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
