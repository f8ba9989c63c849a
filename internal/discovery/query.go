package discovery

import (
	"strconv"
	"strings"
	"time"
)

// binder appends a query argument and returns its placeholder.
type binder func(arg any) string

// postgresBinder numbers placeholders $1, $2, ... into args.
func postgresBinder(args *[]any) binder {
	return func(arg any) string {
		*args = append(*args, arg)
		return "$" + strconv.Itoa(len(*args))
	}
}

// sqliteBinder uses positional ? placeholders.
func sqliteBinder(args *[]any) binder {
	return func(arg any) string {
		*args = append(*args, arg)
		return "?"
	}
}

// leadWhere builds the WHERE clause for q against the leads table. timeArg
// converts time arguments to the driver's representation.
func leadWhere(q LeadQuery, bind binder, timeArg func(time.Time) any) string {
	conds := []string{"latitude IS NOT NULL", "longitude IS NOT NULL"}

	b := q.Box
	conds = append(conds, "latitude BETWEEN "+bind(b.MinLat)+" AND "+bind(b.MaxLat))
	if b.Wraps() {
		conds = append(conds, "(longitude >= "+bind(b.MinLon)+" OR longitude <= "+bind(b.MaxLon)+")")
	} else {
		conds = append(conds, "longitude BETWEEN "+bind(b.MinLon)+" AND "+bind(b.MaxLon))
	}

	if len(q.Statuses) > 0 {
		conds = append(conds, "status IN ("+bindAll(bind, q.Statuses)+")")
	}
	if len(q.ExcludeStatuses) > 0 {
		conds = append(conds, "status NOT IN ("+bindAll(bind, q.ExcludeStatuses)+")")
	}

	if len(q.OrganizationKeywords) > 0 {
		likes := make([]string, len(q.OrganizationKeywords))
		for i, kw := range q.OrganizationKeywords {
			likes[i] = "LOWER(organization) LIKE " + bind("%"+strings.ToLower(kw)+"%")
		}
		conds = append(conds, "("+strings.Join(likes, " OR ")+")")
	}

	if d := q.Dormant; d != nil {
		clause := "last_contacted_at < " + bind(timeArg(d.ContactedBefore))
		if len(d.InquiryStatuses) > 0 {
			clause += " OR EXISTS (SELECT 1 FROM inquiries i WHERE i.lead_id = leads.id AND i.status IN (" +
				bindAll(bind, d.InquiryStatuses) + "))"
		}
		conds = append(conds, "("+clause+")")
	}

	return strings.Join(conds, " AND ")
}

func bindAll[T ~string](bind binder, vals []T) string {
	ph := make([]string, len(vals))
	for i, v := range vals {
		ph[i] = bind(string(v))
	}
	return strings.Join(ph, ", ")
}
