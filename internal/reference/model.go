package reference

import (
	"sort"
	"strings"
)

// EnumDirectory описывает один справочник типа enum.
// Коды пунктов становятся метками enum-типа в PostgreSQL.
type EnumDirectory struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

type EnumItem struct {
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
	Order int    `yaml:"order,omitempty"`
}

// Labels — коды пунктов в порядке Order (при равенстве — в порядке файла).
func (d EnumDirectory) Labels() []string {
	items := append([]EnumItem(nil), d.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Code)
	}
	return out
}

// Catalog — справочники по имени (в нижнем регистре).
type Catalog map[string]EnumDirectory

// Has сообщает, известен ли справочник.
func (c Catalog) Has(name string) bool {
	_, ok := c[strings.ToLower(name)]
	return ok
}

// Labels возвращает метки справочника.
func (c Catalog) Labels(name string) ([]string, bool) {
	d, ok := c[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return d.Labels(), true
}
