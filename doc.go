// Package sqlq is a thin convenience layer over database/sql for MySQL. It focuses on the 90% use-case: render :named placeholders into fully-escaped SQL literals, build simple INSERT/UPDATE/DELETE statements from a column map, load query templates from .sql files, and observe or rewrite every query through two middleware hooks — all without a heavy ORM or a fluent DSL.

package sqlq
