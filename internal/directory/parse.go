package directory

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/hitoshi/visitdesk/internal/model"
)

// fileRow は取込ファイル1行分。
type fileRow struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Title string `json:"title"`
}

// decodeText はBOMを見てUTF-16をUTF-8に変換し、UTF-8のBOMを取り除く。
// BOMがない場合はUTF-8としてそのまま読む。
func decodeText(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// ParseJSON は [{name,email,title}, ...] 形式のJSONを読み込む。メールアドレスのない行は捨てる。
func ParseJSON(r io.Reader) ([]*model.Employee, error) {
	var rows []fileRow
	if err := json.NewDecoder(decodeText(r)).Decode(&rows); err != nil {
		return nil, fmt.Errorf("invalid JSON file: %w", err)
	}
	return toEmployees(rows), nil
}

// ParseCSV は name,email,title ヘッダ付きのCSVを読み込む。
// 列順は問わず、ヘッダ名の大文字小文字は区別しない。メールアドレスのない行は捨てる。
func ParseCSV(r io.Reader) ([]*model.Employee, error) {
	reader := csv.NewReader(decodeText(r))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid CSV file: %w", err)
	}

	index := map[string]int{"name": -1, "email": -1, "title": -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, ok := index[key]; ok {
			index[key] = i
		}
	}
	if index["email"] < 0 {
		return nil, errors.New("CSV header must include email")
	}

	field := func(record []string, key string) string {
		i := index[key]
		if i < 0 || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []fileRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid CSV file: %w", err)
		}
		rows = append(rows, fileRow{
			Name:  field(record, "name"),
			Email: field(record, "email"),
			Title: field(record, "title"),
		})
	}
	return toEmployees(rows), nil
}

func toEmployees(rows []fileRow) []*model.Employee {
	employees := make([]*model.Employee, 0, len(rows))
	for _, row := range rows {
		email := strings.TrimSpace(row.Email)
		if email == "" {
			continue
		}
		name := strings.TrimSpace(row.Name)
		if name == "" {
			name = email
		}
		employees = append(employees, &model.Employee{
			ID:          uuid.New().String(),
			DisplayName: name,
			Email:       email,
			JobTitle:    strings.TrimSpace(row.Title),
		})
	}
	return employees
}
