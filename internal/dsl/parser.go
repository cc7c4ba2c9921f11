package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	entityRe  = regexp.MustCompile(`^entity\s+(\w+)\s*:\s*$`)
	fieldRe   = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	bracketRe = regexp.MustCompile(`^(\w+)\[(.*)\]$`)
)

// splitOptionTokens делит "k=v k2='v 2' pattern=^[A-Z0-9 _-]+$" на токены,
// не рвёт по пробелам внутри кавычек и квадратных скобок.
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0 // внутри [ ... ] у регэкспа

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// Parse читает определения в формате .dsl:
//
//	entity Book:
//	  title: string required max_length=200
//	  genre: enum[novel, poem] indexed
//	  author: ref[Author] indexed
//	  shelves: refs[Shelf]
func Parse(r io.Reader) ([]*EntityDefinition, error) {
	var defs []*EntityDefinition
	var current *EntityDefinition

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := entityRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				defs = append(defs, current)
			}
			current = &EntityDefinition{EntityType: m[1]}
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("line %d: field outside of entity block", lineNo)
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("line %d: cannot parse %q", lineNo, line)
		}
		name, rawType, tail := m[1], m[2], m[3]

		// склейка типов со скобками, разорванных пробелом: enum[a, b]
		if strings.Contains(rawType, "[") && !strings.Contains(rawType, "]") {
			if idx := strings.Index(tail, "]"); idx >= 0 {
				rawType += tail[:idx+1]
				tail = tail[idx+1:]
			}
		}

		optsRaw := strings.TrimSpace(tail)
		if i := strings.Index(optsRaw, " #"); i >= 0 {
			optsRaw = strings.TrimSpace(optsRaw[:i])
		}
		if strings.HasPrefix(strings.ToLower(optsRaw), "options:") {
			optsRaw = strings.TrimSpace(optsRaw[len("options:"):])
		}

		f, err := parseField(name, rawType, splitOptionTokens(optsRaw))
		if err != nil {
			return nil, fmt.Errorf("line %d: %s.%s: %w", lineNo, current.EntityType, name, err)
		}
		current.Fields = append(current.Fields, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		defs = append(defs, current)
	}
	return defs, nil
}

func parseField(name, rawType string, tokens []string) (Field, error) {
	f := Field{Name: name}

	if mm := bracketRe.FindStringSubmatch(rawType); mm != nil {
		kind, inside := strings.ToLower(mm[1]), strings.TrimSpace(mm[2])
		switch kind {
		case "enum", "multienum":
			f.Type = Select
			if kind == "multienum" {
				f.Type = MultiSelect
			}
			f.Validation.Options = &OptionsSource{Kind: OptionsFixed, Values: splitList(inside)}
		case "ref", "refs":
			f.Type = ManyToOne
			if kind == "refs" {
				f.Type = ManyToMany
			}
			f.Validation.TargetClass = inside
		default:
			return f, fmt.Errorf("unknown parametrized type %q", rawType)
		}
	} else {
		t, err := ParseFieldType(rawType)
		if err != nil {
			return f, err
		}
		f.Type = t
	}

	for _, tok := range tokens {
		tok = strings.TrimSpace(strings.TrimSuffix(tok, ","))
		if tok == "" {
			continue
		}
		if !strings.Contains(tok, "=") {
			if err := applyFlag(&f, strings.ToLower(tok)); err != nil {
				return f, err
			}
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		if err := applyOption(&f, strings.ToLower(strings.TrimSpace(kv[0])), unquote(strings.TrimSpace(kv[1]))); err != nil {
			return f, err
		}
	}
	return f, nil
}

func applyFlag(f *Field, flag string) error {
	switch flag {
	case "required":
		f.Required = true
	case "indexed", "index":
		f.Indexed = true
	case "filterable":
		f.Filterable = true
	case "positive":
		f.Validation.Positive = true
	default:
		return fmt.Errorf("unknown flag %q", flag)
	}
	return nil
}

func applyOption(f *Field, k, v string) error {
	v2 := &f.Validation
	switch k {
	case "label":
		f.DisplayName = v
	case "default":
		f.Default = v
	case "pattern":
		v2.Pattern = v
	case "min_length", "max_length":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		if k == "min_length" {
			v2.MinLength = &n
		} else {
			v2.MaxLength = &n
		}
	case "min", "max":
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		if k == "min" {
			v2.Min = &n
		} else {
			v2.Max = &n
		}
	case "min_date":
		v2.MinDate = v
	case "max_date":
		v2.MaxDate = v
	case "enum":
		v2.Options = &OptionsSource{Kind: OptionsEnum, Enum: v}
	case "query":
		v2.Options = &OptionsSource{Kind: OptionsQuery, Query: v}
	case "options":
		v2.Options = &OptionsSource{Kind: OptionsFixed, Values: splitList(strings.Trim(v, "[]"))}
	case "target":
		v2.TargetClass = v
	default:
		return fmt.Errorf("unknown option %q", k)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.Trim(strings.TrimSpace(p), `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// LoadFile читает один .dsl файл.
func LoadFile(path string) ([]*EntityDefinition, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// LoadDir обходит каталог и собирает определения из всех *.dsl.
// Повтор entity_type (без учёта регистра) — ошибка.
func LoadDir(root string) ([]*EntityDefinition, error) {
	var result []*EntityDefinition
	seen := map[string]string{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}
		defs, err := LoadFile(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, def := range defs {
			key := strings.ToLower(def.EntityType)
			if prev, exists := seen[key]; exists {
				return fmt.Errorf("duplicate entity %q in %s (first defined in %s)", def.EntityType, path, prev)
			}
			seen[key] = path
			result = append(result, def)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
