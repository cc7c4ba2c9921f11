package pg

import (
	"fmt"
	"strings"

	"entityforge/internal/dsl"
)

// planEnums создаёт недостающие enum-типы и дописывает новые метки в существующие.
// Метки из справочника не удаляются: PostgreSQL не умеет DROP VALUE.
func planEnums(def *dsl.EntityDefinition, st *State, enums EnumSource) ([]Statement, error) {
	var out []Statement
	done := map[string]bool{}
	for _, f := range def.Fields {
		name := f.Validation.EnumName()
		if f.Type != dsl.Select || name == "" || done[name] {
			continue
		}
		done[name] = true

		var labels []string
		ok := false
		if enums != nil {
			labels, ok = enums.Labels(name)
		}
		if !ok {
			return nil, enumMissingError(def, f.Name, name)
		}

		current, exists := st.Enums[name]
		if !exists {
			out = append(out, createEnum(name, labels))
			continue
		}
		have := make(map[string]bool, len(current))
		for _, l := range current {
			have[l] = true
		}
		for _, l := range labels {
			if !have[l] {
				out = append(out, stmt(KindAlterEnum, true,
					fmt.Sprintf("ALTER TYPE %s ADD VALUE IF NOT EXISTS %s", qi(name), ql(l))))
			}
		}
	}
	return out, nil
}

// CREATE TYPE не умеет IF NOT EXISTS, guard делаем процедурным блоком
func createEnum(name string, labels []string) Statement {
	quoted := make([]string, 0, len(labels))
	for _, l := range labels {
		quoted = append(quoted, strings.TrimSpace(ql(l)))
	}
	return stmt(KindCreateEnum, true, fmt.Sprintf(
		"DO $$ BEGIN CREATE TYPE %s AS ENUM (%s); EXCEPTION WHEN duplicate_object THEN NULL; END $$",
		qi(name), strings.Join(quoted, ", ")))
}
