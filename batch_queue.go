package nyxdb

import "gopkg.in/mgo.v2/bson"

// batch_queue.go adapts the teacher's ring-buffer queue (queue.go, same
// push/pop/expand shape) into the cursor adapter's batch buffer: the
// documents of one firstBatch or nextBatch, popped one at a time by
// next().

type docQueue struct {
	elems               []bson.Raw
	nelems, popi, pushi int
}

func (q *docQueue) Len() int {
	return q.nelems
}

func (q *docQueue) Push(doc bson.Raw) {
	if q.nelems == len(q.elems) {
		q.expand()
	}
	q.elems[q.pushi] = doc
	q.nelems++
	q.pushi = (q.pushi + 1) % len(q.elems)
}

func (q *docQueue) Pop() (doc bson.Raw, ok bool) {
	if q.nelems == 0 {
		return bson.Raw{}, false
	}
	doc = q.elems[q.popi]
	q.elems[q.popi] = bson.Raw{}
	q.nelems--
	q.popi = (q.popi + 1) % len(q.elems)
	return doc, true
}

// reset drops every buffered document, for use right before loading a
// fresh batch from a getMore reply.
func (q *docQueue) reset() {
	q.elems = nil
	q.nelems, q.popi, q.pushi = 0, 0, 0
}

func (q *docQueue) expand() {
	curcap := len(q.elems)
	var newcap int
	switch {
	case curcap == 0:
		newcap = 8
	case curcap < 1024:
		newcap = curcap * 2
	default:
		newcap = curcap + curcap/4
	}
	elems := make([]bson.Raw, newcap)
	if q.popi == 0 {
		copy(elems, q.elems)
		q.pushi = curcap
	} else {
		newpopi := newcap - (curcap - q.popi)
		copy(elems, q.elems[:q.popi])
		copy(elems[newpopi:], q.elems[q.popi:])
		q.popi = newpopi
	}
	q.elems = elems
}
