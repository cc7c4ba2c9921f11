package dsl

import (
	"regexp"
	"strings"
)

// identRe — единственная граница защиты от инъекций в DDL: идентификаторы
// нельзя передать параметром, поэтому в SQL попадает только то, что прошло эту проверку.
var identRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// MaxIdentLen — предел длины идентификатора в PostgreSQL (NAMEDATALEN-1).
const MaxIdentLen = 63

const (
	TablePrefix    = "entity_"
	ViewSuffix     = "_view"
	RelationPrefix = "rel_"
	IndexPrefix    = "idx_"

	// RegistryTable — общая таблица системных/аудит-колонок всех типов сущностей.
	RegistryTable = "entity_registry"
	// DefinitionsTable — хранилище определений.
	DefinitionsTable = "entity_definitions"

	// PrimaryKey — первичный ключ каждой таблицы сущности.
	PrimaryKey = "uuid"
)

// ValidIdent проверяет имя по ^[a-zA-Z][a-zA-Z0-9_]*$ и пределу длины.
func ValidIdent(s string) bool {
	return len(s) <= MaxIdentLen && identRe.MatchString(s)
}

// TableName: entity_<entity_type в нижнем регистре>.
func TableName(entityType string) string {
	return TablePrefix + strings.ToLower(entityType)
}

// ViewName: entity_<entity_type>_view.
func ViewName(entityType string) string {
	return TableName(entityType) + ViewSuffix
}

// RelationTable: rel_<entity_type>_<field>.
func RelationTable(entityType, field string) string {
	return RelationPrefix + strings.ToLower(entityType) + "_" + strings.ToLower(field)
}

// IndexName: idx_<table>_<column>.
func IndexName(table, column string) string {
	return IndexPrefix + strings.ToLower(table) + "_" + strings.ToLower(column)
}

// ColumnName возвращает колонку базовой таблицы для поля.
// ok=false — поле не материализуется (ManyToMany и поля реестра).
func ColumnName(f Field) (string, bool) {
	if f.Type == ManyToMany || IsRegistryField(f.Name) {
		return "", false
	}
	if f.Type == ManyToOne {
		return strings.ToLower(f.Name) + "_uuid", true
	}
	return strings.ToLower(f.Name), true
}
