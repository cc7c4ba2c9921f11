package pg

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"entityforge/internal/dsl"
	"entityforge/internal/schemaerr"
)

// DefaultProtected — общие таблицы, которые никогда не считаются сиротами.
var DefaultProtected = []string{dsl.RegistryTable, dsl.DefinitionsTable}

// TableLister — то, что нужно реконсилятору от интроспектора.
type TableLister interface {
	ListTables(ctx context.Context, prefix string) ([]string, error)
}

// OrphanReconciler удаляет таблицы entity_*, для которых нет живого определения.
type OrphanReconciler struct {
	db        Execer
	lister    TableLister
	protected map[string]bool
	log       *slog.Logger
}

// NewOrphanReconciler: extra дополняет DefaultProtected.
func NewOrphanReconciler(db Execer, lister TableLister, extra []string, log *slog.Logger) *OrphanReconciler {
	if log == nil {
		log = slog.Default()
	}
	prot := map[string]bool{}
	for _, t := range append(append([]string(nil), DefaultProtected...), extra...) {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			prot[t] = true
		}
	}
	return &OrphanReconciler{db: db, lister: lister, protected: prot, log: log}
}

// Orphans — таблицы-сироты для набора живых типов сущностей, по алфавиту.
func (o *OrphanReconciler) Orphans(ctx context.Context, liveTypes []string) ([]string, error) {
	live := make(map[string]bool, len(liveTypes))
	for _, et := range liveTypes {
		live[dsl.TableName(et)] = true
	}
	tables, err := o.lister.ListTables(ctx, dsl.TablePrefix)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range tables {
		t = strings.ToLower(t)
		if o.protected[t] || live[t] {
			continue
		}
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// Reconcile удаляет сирот (DROP TABLE IF EXISTS ... CASCADE) и возвращает их список.
// dryRun только перечисляет. Первая ошибка прерывает проход.
func (o *OrphanReconciler) Reconcile(ctx context.Context, liveTypes []string, dryRun bool) ([]string, error) {
	orphans, err := o.Orphans(ctx, liveTypes)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return orphans, nil
	}
	var dropped []string
	for _, t := range orphans {
		if !dsl.ValidIdent(t) {
			// имя из каталога, но в DDL без проверки не подставляем
			o.log.Warn("orphan skipped: invalid identifier", "table", t)
			continue
		}
		q := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qi(t))
		if _, err := o.db.ExecContext(ctx, q); err != nil {
			e := dbErr("drop_orphan", err).(*schemaerr.DatabaseError)
			e.Statement = q
			return dropped, e
		}
		o.log.Info("orphan table dropped", "table", t)
		dropped = append(dropped, t)
	}
	return dropped, nil
}
