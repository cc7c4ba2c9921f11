package pg

import (
	"fmt"
	"sort"

	"entityforge/internal/dsl"
)

// Колонки join-таблицы ManyToMany.
const (
	RelationSource = "source_uuid"
	RelationTarget = "target_uuid"
)

// RelationIndexes — индексы join-таблицы, по одному на сторону.
func RelationIndexes(rel string) (source, target string) {
	return dsl.IndexName(rel, "source"), dsl.IndexName(rel, "target")
}

// planRelations создаёт join-таблицы ManyToMany-полей и удаляет таблицы полей,
// исчезнувших из определения по сравнению с prev. Колоночная логика их не трогает.
func planRelations(def, prev *dsl.EntityDefinition, st *State) []Statement {
	var out []Statement
	wanted := map[string]bool{}

	for _, f := range def.Fields {
		if f.Type != dsl.ManyToMany || f.Validation.TargetClass == "" {
			continue
		}
		rel := dsl.RelationTable(def.EntityType, f.Name)
		wanted[rel] = true
		srcIdx, dstIdx := RelationIndexes(rel)

		idx, exists := st.Relations[rel]
		if !exists {
			out = append(out, stmt(KindCreateRelation, true, fmt.Sprintf(
				"CREATE TABLE IF NOT EXISTS %s (%s uuid NOT NULL, %s uuid NOT NULL, CONSTRAINT %s UNIQUE (%s, %s))",
				qi(rel), qi(RelationSource), qi(RelationTarget), qi("uq_"+rel), qi(RelationSource), qi(RelationTarget))))
			idx = map[string]bool{}
		}
		if !idx[srcIdx] {
			out = append(out, stmt(KindCreateIndex, true, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS %s ON %s (%s)", qi(srcIdx), qi(rel), qi(RelationSource))))
		}
		if !idx[dstIdx] {
			out = append(out, stmt(KindCreateIndex, true, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS %s ON %s (%s)", qi(dstIdx), qi(rel), qi(RelationTarget))))
		}
	}

	if prev == nil {
		return out
	}
	var stale []string
	for _, f := range prev.Fields {
		if f.Type != dsl.ManyToMany || !dsl.ValidIdent(f.Name) {
			continue
		}
		rel := dsl.RelationTable(def.EntityType, f.Name)
		if _, exists := st.Relations[rel]; exists && !wanted[rel] {
			stale = append(stale, rel)
		}
	}
	sort.Strings(stale)
	for _, rel := range stale {
		out = append(out, DropRelation(rel))
	}
	return out
}

// DropRelation — явное удаление join-таблицы.
func DropRelation(rel string) Statement {
	return stmt(KindDropRelation, true, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qi(rel)))
}
