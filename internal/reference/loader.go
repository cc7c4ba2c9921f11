package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadEnumCatalog читает все enum-справочники (*.yaml, *.yml) из каталога.
// Отсутствующий каталог — пустой справочник, а не ошибка.
func LoadEnumCatalog(dir string) (Catalog, error) {
	result := make(Catalog)
	if dir == "" {
		return result, nil
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}
	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if file.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var enumDir EnumDirectory
		if err := yaml.Unmarshal(data, &enumDir); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		// Имя справочника — из enumDir.Name или из имени файла
		enumName := enumDir.Name
		if enumName == "" {
			enumName = strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		}
		enumName = strings.ToLower(enumName)
		if _, dup := result[enumName]; dup {
			return nil, fmt.Errorf("duplicate enum %q in %s", enumName, path)
		}
		if len(enumDir.Items) == 0 {
			return nil, fmt.Errorf("enum %q in %s has no items", enumName, path)
		}
		seen := map[string]struct{}{}
		for _, it := range enumDir.Items {
			if strings.TrimSpace(it.Code) == "" {
				return nil, fmt.Errorf("enum %q in %s: item with empty code", enumName, path)
			}
			if _, dup := seen[it.Code]; dup {
				return nil, fmt.Errorf("enum %q in %s: duplicate code %q", enumName, path, it.Code)
			}
			seen[it.Code] = struct{}{}
		}
		enumDir.Name = enumName
		result[enumName] = enumDir
	}
	return result, nil
}
