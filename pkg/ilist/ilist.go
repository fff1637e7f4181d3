// Package ilist provides an intrusive doubly-linked list. Types embed
// Entry and may then sit on at most one List at a time.
package ilist

type Element interface {
	Next() Element
	Prev() Element

	setNext(Element)
	setPrev(Element)
}

// Entry is embedded by list members.
type Entry struct {
	nextE Element
	prevE Element
}

func (e *Entry) Next() Element {
	return e.nextE
}

func (e *Entry) Prev() Element {
	return e.prevE
}

func (e *Entry) setNext(x Element) {
	e.nextE = x
}

func (e *Entry) setPrev(x Element) {
	e.prevE = x
}

type List struct {
	head Element
	tail Element
}

func (l *List) Empty() bool {
	return l.head == nil
}

func (l *List) Front() Element {
	return l.head
}

func (l *List) Back() Element {
	return l.tail
}

func (l *List) PushBack(e Element) {
	e.setPrev(l.tail)
	e.setNext(nil)

	if l.tail == nil {
		l.head = e
	} else {
		l.tail.setNext(e)
	}

	l.tail = e
}

func (l *List) Remove(e Element) {
	prev := e.Prev()
	next := e.Next()

	if prev == nil {
		l.head = next
	} else {
		prev.setNext(next)
	}

	if next == nil {
		l.tail = prev
	} else {
		next.setPrev(prev)
	}

	e.setNext(nil)
	e.setPrev(nil)
}
