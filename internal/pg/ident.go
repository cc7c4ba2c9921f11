package pg

import (
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// qi квотирует идентификатор для интерполяции в DDL.
// Пользовательские имена сюда попадают только после dsl.ValidIdent,
// кавычки дополнительно защищают имена, прочитанные из каталога.
func qi(name string) string {
	return pgx.Identifier{strings.ToLower(name)}.Sanitize()
}

// ql квотирует строковый литерал (метки enum).
func ql(s string) string {
	return pq.QuoteLiteral(s)
}

// likePrefix экранирует префикс для LIKE: "entity_" -> `entity\_%`.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
