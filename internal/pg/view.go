package pg

import (
	"fmt"
	"strings"

	"entityforge/internal/dsl"
)

// RegistryColumns — колонки реестра, которые view добавляет к базовой таблице.
// uuid берётся из базовой таблицы, поэтому здесь его нет.
func RegistryColumns() []string {
	return append([]string(nil), dsl.RegistryFields...)
}

// BuildView собирает CREATE VIEW по фактическим колонкам базовой таблицы.
func BuildView(entityType string, base []Column) Statement {
	table, view := dsl.TableName(entityType), dsl.ViewName(entityType)

	sel := make([]string, 0, len(base)+len(dsl.RegistryFields))
	for _, c := range base {
		if dsl.IsRegistryField(c.Name) {
			continue
		}
		sel = append(sel, "e."+qi(c.Name))
	}
	for _, c := range RegistryColumns() {
		sel = append(sel, "r."+qi(c))
	}
	return stmt(KindCreateView, false, fmt.Sprintf(
		"CREATE VIEW %s AS SELECT %s FROM %s e LEFT JOIN %s r ON r.%s = e.%s",
		qi(view), strings.Join(sel, ", "), qi(table), qi(dsl.RegistryTable), qi(dsl.PrimaryKey), qi(dsl.PrimaryKey)))
}

// ExpectedViewColumns — колонки базовой таблицы плюс реестр, uuid ровно один раз.
func ExpectedViewColumns(base []Column) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range base {
		if !seen[c.Name] {
			seen[c.Name] = true
			out = append(out, c.Name)
		}
	}
	for _, c := range RegistryColumns() {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// checkViewColumns возвращает недостающие и задвоенные колонки view.
func checkViewColumns(expected, actual []string) (missing, duplicated []string) {
	count := map[string]int{}
	for _, c := range actual {
		count[strings.ToLower(c)]++
	}
	for _, c := range expected {
		if count[c] == 0 {
			missing = append(missing, c)
		}
	}
	for _, c := range actual {
		l := strings.ToLower(c)
		if count[l] > 1 {
			duplicated = append(duplicated, l)
			count[l] = 1
		}
	}
	return missing, duplicated
}
