package encoder

import (
	"net/url"
	"strconv"

	"github.com/manyminds/api2go/jsonapi"
)

// Pagination describes one page of a paginated result.
type Pagination struct {
	Number    int
	Size      int
	Total     int
	NumberKey string
	SizeKey   string
}

// LastPage returns the number of the last page, at least 1.
func (p Pagination) LastPage() int {
	if p.Size <= 0 || p.Total == 0 {
		return 1
	}
	return (p.Total + p.Size - 1) / p.Size
}

// Meta returns the page meta: current_page, from, last_page, per_page,
// to and total. from and to are null on an empty page.
func (p Pagination) Meta() map[string]any {
	meta := map[string]any{
		"current_page": p.Number,
		"from":         nil,
		"last_page":    p.LastPage(),
		"per_page":     p.Size,
		"to":           nil,
		"total":        p.Total,
	}

	from := (p.Number-1)*p.Size + 1
	if from <= p.Total {
		meta["from"] = from
		meta["to"] = min(p.Number*p.Size, p.Total)
	}
	return meta
}

// Links returns first, prev, next and last links for the page. path is
// the collection URL and params the request query; page parameters in
// params are replaced, everything else is kept.
func (p Pagination) Links(path string, params url.Values) jsonapi.Links {
	link := func(number int) jsonapi.Link {
		values := url.Values{}
		for k, v := range params {
			values[k] = append([]string(nil), v...)
		}
		values.Set("page["+p.NumberKey+"]", strconv.Itoa(number))
		values.Set("page["+p.SizeKey+"]", strconv.Itoa(p.Size))
		return jsonapi.Link{Href: path + "?" + values.Encode()}
	}

	last := p.LastPage()
	links := jsonapi.Links{
		"first": link(1),
		"last":  link(last),
	}
	if p.Number > 1 {
		links["prev"] = link(min(p.Number-1, last))
	}
	if p.Number < last {
		links["next"] = link(p.Number + 1)
	}
	return links
}
