package sqlsynth

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// ErrNoJoinPath is wrapped into the stage error the synthesizer raises
// when no undirected path connects two tables in the FK graph.
type ErrNoJoinPath struct {
	FromTable string
	ToTable   string
}

func (e *ErrNoJoinPath) Error() string {
	return fmt.Sprintf("no join path from %s to %s", e.FromTable, e.ToTable)
}

type edge struct {
	fk        models.SchemaForeignKey
	neighbor  uuid.UUID
	reversed  bool // true if the edge was traversed target->source
}

// ShortestJoinPath runs BFS over the undirected FK graph from fromTableID
// to toTableID and returns the ordered sequence of foreign keys to join
// across. Each graph edge is traversed in whichever direction connects
// the two tables; Reversed on the returned step records that so the
// caller knows which side is already in the FROM clause.
type JoinStep struct {
	FK       models.SchemaForeignKey
	Table    uuid.UUID // the newly-joined table (not yet in the FROM clause before this step)
	Reversed bool      // true if FK.TargetTableID is the already-present side
}

func ShortestJoinPath(snapshot *models.SchemaSnapshot, fromTableID, toTableID uuid.UUID) ([]JoinStep, error) {
	if fromTableID == toTableID {
		return nil, nil
	}

	adjacency := map[uuid.UUID][]edge{}
	for _, fk := range snapshot.ForeignKeys {
		adjacency[fk.SourceTableID] = append(adjacency[fk.SourceTableID], edge{fk: fk, neighbor: fk.TargetTableID, reversed: false})
		adjacency[fk.TargetTableID] = append(adjacency[fk.TargetTableID], edge{fk: fk, neighbor: fk.SourceTableID, reversed: true})
	}

	type queued struct {
		table uuid.UUID
		path  []JoinStep
	}

	visited := map[uuid.UUID]bool{fromTableID: true}
	queue := []queued{{table: fromTableID}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.table == toTableID {
			return cur.path, nil
		}

		for _, e := range adjacency[cur.table] {
			if visited[e.neighbor] {
				continue
			}
			visited[e.neighbor] = true
			nextPath := make([]JoinStep, len(cur.path), len(cur.path)+1)
			copy(nextPath, cur.path)
			nextPath = append(nextPath, JoinStep{FK: e.fk, Table: e.neighbor, Reversed: e.reversed})
			queue = append(queue, queued{table: e.neighbor, path: nextPath})
		}
	}

	return nil, &ErrNoJoinPath{FromTable: tableName(snapshot, fromTableID), ToTable: tableName(snapshot, toTableID)}
}

func tableName(snapshot *models.SchemaSnapshot, tableID uuid.UUID) string {
	for _, t := range snapshot.Tables {
		if t.ID == tableID {
			return t.TableName
		}
	}
	return tableID.String()
}
