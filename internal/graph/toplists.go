package graph

import (
	"sort"
	"strings"

	"github.com/hashicorp/go-set/v2"

	"github.com/bstandal/NorConnect/internal/model"
)

// topListSize caps every toplist.
const topListSize = 12

// OrgFundingEntry ranks a recipient by funding received.
type OrgFundingEntry struct {
	OrgName   string  `json:"org_name"`
	NOKTotal  float64 `json:"nok_total"`
	USDTotal  float64 `json:"usd_total"`
	FlowCount int     `json:"flow_count"`
}

// OrgRoleEntry ranks an organization by role events and distinct people.
type OrgRoleEntry struct {
	OrgName     string `json:"org_name"`
	RoleCount   int    `json:"role_count"`
	PersonCount int    `json:"person_count"`
}

// PersonRoleEntry ranks a person by role events and distinct organizations.
type PersonRoleEntry struct {
	PersonName string `json:"person_name"`
	RoleCount  int    `json:"role_count"`
	OrgCount   int    `json:"org_count"`
}

// Toplists are the three ranked views on the dashboard.
type Toplists struct {
	OrgFundingTop []OrgFundingEntry `json:"org_funding_top"`
	OrgRoleTop    []OrgRoleEntry    `json:"org_role_top"`
	PersonRoleTop []PersonRoleEntry `json:"person_role_top"`
}

type orgRoleBucket struct {
	name   string
	roles  int
	people *set.Set[int64]
}

type personRoleBucket struct {
	name  string
	roles int
	orgs  *set.Set[int64]
}

// BuildToplists ranks recipients by funding and organizations/persons by
// role activity over the filtered rows. Funding buckets key on the
// recipient node identity so an external recipient aggregates across its
// spellings.
func BuildToplists(roleRows []model.RoleRow, fundingRows []model.FundingRow, f Filters) *Toplists {
	roleRows = FilterRoles(roleRows, f)
	fundingRows = FilterFunding(fundingRows, f)

	funding := make(map[string]*OrgFundingEntry)
	var fundingOrder []string
	for _, row := range fundingRows {
		key, name, _ := recipientNode(row)
		bucket, ok := funding[key]
		if !ok {
			bucket = &OrgFundingEntry{OrgName: name}
			funding[key] = bucket
			fundingOrder = append(fundingOrder, key)
		}
		bucket.FlowCount++
		switch {
		case row.AmountNOK != nil:
			bucket.NOKTotal += *row.AmountNOK
		case row.AmountOriginal != nil && strings.ToUpper(deref(row.CurrencyCode)) == "USD":
			bucket.USDTotal += *row.AmountOriginal
		}
	}

	orgRoles := make(map[int64]*orgRoleBucket)
	personRoles := make(map[int64]*personRoleBucket)
	var orgOrder, personOrder []int64
	for _, row := range roleRows {
		ob, ok := orgRoles[row.OrganizationID]
		if !ok {
			ob = &orgRoleBucket{name: row.OrganizationName, people: set.New[int64](4)}
			orgRoles[row.OrganizationID] = ob
			orgOrder = append(orgOrder, row.OrganizationID)
		}
		ob.roles++
		ob.people.Insert(row.PersonID)

		pb, ok := personRoles[row.PersonID]
		if !ok {
			pb = &personRoleBucket{name: row.PersonName, orgs: set.New[int64](4)}
			personRoles[row.PersonID] = pb
			personOrder = append(personOrder, row.PersonID)
		}
		pb.roles++
		pb.orgs.Insert(row.OrganizationID)
	}

	fundingTop := make([]OrgFundingEntry, 0, len(fundingOrder))
	for _, key := range fundingOrder {
		e := *funding[key]
		e.NOKTotal = round2(e.NOKTotal)
		e.USDTotal = round2(e.USDTotal)
		fundingTop = append(fundingTop, e)
	}
	sort.SliceStable(fundingTop, func(i, j int) bool {
		a, b := fundingTop[i], fundingTop[j]
		if a.NOKTotal != b.NOKTotal {
			return a.NOKTotal > b.NOKTotal
		}
		if a.FlowCount != b.FlowCount {
			return a.FlowCount > b.FlowCount
		}
		return a.USDTotal > b.USDTotal
	})

	orgTop := make([]OrgRoleEntry, 0, len(orgOrder))
	for _, id := range orgOrder {
		b := orgRoles[id]
		orgTop = append(orgTop, OrgRoleEntry{OrgName: b.name, RoleCount: b.roles, PersonCount: b.people.Size()})
	}
	sort.SliceStable(orgTop, func(i, j int) bool {
		a, b := orgTop[i], orgTop[j]
		if a.RoleCount != b.RoleCount {
			return a.RoleCount > b.RoleCount
		}
		return a.PersonCount > b.PersonCount
	})

	personTop := make([]PersonRoleEntry, 0, len(personOrder))
	for _, id := range personOrder {
		b := personRoles[id]
		personTop = append(personTop, PersonRoleEntry{PersonName: b.name, RoleCount: b.roles, OrgCount: b.orgs.Size()})
	}
	sort.SliceStable(personTop, func(i, j int) bool {
		a, b := personTop[i], personTop[j]
		if a.RoleCount != b.RoleCount {
			return a.RoleCount > b.RoleCount
		}
		return a.OrgCount > b.OrgCount
	})

	return &Toplists{
		OrgFundingTop: capList(fundingTop, topListSize),
		OrgRoleTop:    capList(orgTop, topListSize),
		PersonRoleTop: capList(personTop, topListSize),
	}
}

func capList[T any](list []T, limit int) []T {
	if len(list) > limit {
		return list[:limit]
	}
	return list
}
