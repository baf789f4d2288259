package nyxdb

import "gopkg.in/mgo.v2/bson"

// command.go is the Command Builder component (spec §4.2): assembles the
// aggregate command for both the initial open and every resume, and the
// getMore/killCursors commands the cursor adapter issues afterwards.

// targetKind says what namespace a ChangeStream watches, and therefore
// what value goes in the command's "aggregate" field (spec §4.1).
type targetKind int

const (
	TargetCollection targetKind = iota
	TargetDatabase
	TargetDeployment
)

// buildAggregateCommand assembles the aggregate command document for
// either the first open or a resume, per spec §4.2 steps 1-5.
func buildAggregateCommand(kind targetKind, collName string, pipeline interface{}, sel resumeSelector, opts ChangeStreamOptions) (bson.D, error) {
	userStages, err := normalizePipeline(pipeline)
	if err != nil {
		return nil, err
	}

	fullDocument := opts.FullDocument
	if fullDocument == "" {
		fullDocument = "default"
	}
	changeStreamStage := bson.M{"fullDocument": fullDocument}
	switch sel.kind {
	case selectResumeAfter:
		changeStreamStage["resumeAfter"] = sel.token
	case selectStartAfter:
		changeStreamStage["startAfter"] = sel.token
	case selectStartAtOperationTime:
		changeStreamStage["startAtOperationTime"] = sel.time
	case selectNone:
		// The first open may still carry both user-supplied selectors
		// verbatim (spec §4.5 closing note / Open Question (a)): the
		// server, not the client, arbitrates resume_after vs
		// start_after conflicts.
		if opts.ResumeAfter != nil {
			changeStreamStage["resumeAfter"] = *opts.ResumeAfter
		}
		if opts.StartAfter != nil {
			changeStreamStage["startAfter"] = *opts.StartAfter
		}
		if opts.StartAtOperationTime != nil {
			changeStreamStage["startAtOperationTime"] = *opts.StartAtOperationTime
		}
	}

	stages := make([]interface{}, 0, len(userStages)+1)
	stages = append(stages, bson.M{"$changeStream": changeStreamStage})
	stages = append(stages, userStages...)

	var aggregateField interface{}
	switch kind {
	case TargetCollection:
		aggregateField = collName
	default:
		aggregateField = 1
	}

	cursorOpts := bson.M{}
	if opts.BatchSize != nil {
		cursorOpts["batchSize"] = *opts.BatchSize
	}

	cmd := bson.D{
		{Name: "aggregate", Value: aggregateField},
		{Name: "pipeline", Value: stages},
		{Name: "cursor", Value: cursorOpts},
	}
	if opts.Collation != nil {
		cmd = append(cmd, bson.DocElem{Name: "collation", Value: *opts.Collation})
	}
	if opts.ReadConcern != nil {
		cmd = append(cmd, bson.DocElem{Name: "readConcern", Value: *opts.ReadConcern})
	}
	if opts.WriteConcern != nil {
		cmd = append(cmd, bson.DocElem{Name: "writeConcern", Value: *opts.WriteConcern})
	}
	cmd = appendSession(cmd, opts.Session)
	return cmd, nil
}

// appendSession threads the session handle through a command (spec §4.1:
// "session: session handle — threaded through"). Session bookkeeping
// itself — causal consistency, transaction state — is the out-of-scope
// "session bookkeeping" collaborator of spec.md §1; all the core does is
// attach the session's logical id so the server can associate the
// command with it.
func appendSession(cmd bson.D, sess *Session) bson.D {
	if sess == nil {
		return cmd
	}
	return append(cmd, bson.DocElem{Name: "lsid", Value: bson.M{"id": sess.ID}})
}

// normalizePipeline accepts a user pipeline in either of the two forms
// spec §4.2 step 3 allows: a slice of stages, or a document whose keys
// are the decimal indices "0","1",.... Malformed elements are passed
// through verbatim — the server's error is what surfaces, not a local
// rejection.
func normalizePipeline(pipeline interface{}) ([]interface{}, error) {
	if pipeline == nil {
		return nil, nil
	}
	switch p := pipeline.(type) {
	case []interface{}:
		return p, nil
	case bson.M:
		if raw, ok := p["pipeline"]; ok {
			return normalizePipeline(raw)
		}
		return indexedDocToSlice(p)
	case bson.D:
		for _, elem := range p {
			if elem.Name == "pipeline" {
				return normalizePipeline(elem.Value)
			}
		}
		m := bson.M{}
		for _, elem := range p {
			m[elem.Name] = elem.Value
		}
		return indexedDocToSlice(m)
	default:
		return nil, invalidArgument("watch: unsupported pipeline type %T", pipeline)
	}
}

func indexedDocToSlice(m bson.M) ([]interface{}, error) {
	out := make([]interface{}, len(m))
	for k, v := range m {
		idx, err := decimalIndex(k)
		if err != nil {
			return nil, invalidArgument("watch: pipeline key %q is not a decimal index", k)
		}
		if idx < 0 || idx >= len(out) {
			return nil, invalidArgument("watch: pipeline index %d out of range", idx)
		}
		out[idx] = v
	}
	return out, nil
}

func decimalIndex(key string) (int, error) {
	if key == "" {
		return 0, invalidArgument("empty index")
	}
	n := 0
	for _, c := range key {
		if c < '0' || c > '9' {
			return 0, invalidArgument("non-decimal index %q", key)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// buildGetMoreCommand assembles the getMore command (spec §6).
func buildGetMoreCommand(cursorID int64, collName string, opts ChangeStreamOptions) bson.D {
	cmd := bson.D{
		{Name: "getMore", Value: cursorID},
		{Name: "collection", Value: collName},
	}
	if opts.BatchSize != nil {
		cmd = append(cmd, bson.DocElem{Name: "batchSize", Value: *opts.BatchSize})
	}
	if opts.MaxAwaitTimeMS != nil {
		cmd = append(cmd, bson.DocElem{Name: "maxTimeMS", Value: *opts.MaxAwaitTimeMS})
	}
	return appendSession(cmd, opts.Session)
}

// buildKillCursorsCommand assembles the killCursors command (spec §6).
func buildKillCursorsCommand(cursorID int64, collName string) bson.D {
	return bson.D{
		{Name: "killCursors", Value: collName},
		{Name: "cursors", Value: []int64{cursorID}},
	}
}
