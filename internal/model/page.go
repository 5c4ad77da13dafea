package model

import "math"

// FirstPage is the lowest valid page number
const FirstPage = 1

// Page is one bounded slice of an ordered result set. PrevPage and NextPage
// are nil when no such page exists, which serializes as JSON null.
type Page[T any] struct {
	ResultList []T  `json:"resultList"`
	CurrPage   int  `json:"currPage"`
	PrevPage   *int `json:"prevPage"`
	NextPage   *int `json:"nextPage"`
	PageSize   int  `json:"pageSize"`
}

// HasNext reports whether a further page exists
func (p *Page[T]) HasNext() bool {
	return p.NextPage != nil
}

// HasPrev reports whether a previous page exists
func (p *Page[T]) HasPrev() bool {
	return p.PrevPage != nil
}

// NormalizePage maps any page number below 1 to the first page
func NormalizePage(pageNum int) int {
	if pageNum < FirstPage {
		return FirstPage
	}
	return pageNum
}

// Offset returns the number of items preceding pageNum. ok is false when the
// offset does not fit in an int, i.e. the page is necessarily past the end.
func Offset(pageNum, pageSize int) (offset int, ok bool) {
	pageNum = NormalizePage(pageNum)
	if pageSize <= 0 {
		return 0, false
	}
	if pageNum-1 > math.MaxInt/pageSize {
		return 0, false
	}
	return (pageNum - 1) * pageSize, true
}

// NewPage builds a page from a window fetched with limit pageSize+1: the
// extra element, when present, signals that a next page exists and is dropped.
func NewPage[T any](window []T, pageNum, pageSize int) *Page[T] {
	pageNum = NormalizePage(pageNum)

	hasNext := len(window) > pageSize
	if hasNext {
		window = window[:pageSize]
	}
	if window == nil {
		window = []T{}
	}

	page := &Page[T]{
		ResultList: window,
		CurrPage:   pageNum,
		PageSize:   pageSize,
	}
	if pageNum > FirstPage {
		prev := pageNum - 1
		page.PrevPage = &prev
	}
	if hasNext {
		next := pageNum + 1
		page.NextPage = &next
	}
	return page
}

// Paginate slices an in-memory ordered sequence into the requested page
func Paginate[T any](all []T, pageNum, pageSize int) *Page[T] {
	offset, ok := Offset(pageNum, pageSize)
	if !ok || offset >= len(all) {
		return NewPage[T](nil, pageNum, pageSize)
	}
	end := len(all)
	if end-offset > pageSize+1 {
		end = offset + pageSize + 1
	}
	return NewPage(all[offset:end], pageNum, pageSize)
}
