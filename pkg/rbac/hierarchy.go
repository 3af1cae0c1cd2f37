package rbac

// Hierarchy is a coarse privilege ordering over roles. It is never consulted
// by the resolver; callers use it for seniority decisions only.
type Hierarchy struct {
	ranks map[string]int
	names map[string]string
}

// DefaultHierarchy returns the built-in role ranks and display names
func DefaultHierarchy() *Hierarchy {
	return &Hierarchy{
		ranks: map[string]int{
			RoleArtist:              1,
			RoleLabelAdmin:          2,
			RoleDistributionPartner: 2,
			RoleCompanyAdmin:        3,
			RoleSuperAdmin:          4,
		},
		names: map[string]string{
			RoleArtist:              "Artist",
			RoleLabelAdmin:          "Label Admin",
			RoleCompanyAdmin:        "Company Admin",
			RoleSuperAdmin:          "Super Admin",
			RoleDistributionPartner: "Distribution Partner",
		},
	}
}

// Rank returns the rank of role; unknown roles rank 0
func (h *Hierarchy) Rank(role string) int {
	return h.ranks[role]
}

// IsHigherPrivilege reports whether a strictly outranks b
func (h *Hierarchy) IsHigherPrivilege(a, b string) bool {
	return h.Rank(a) > h.Rank(b)
}

// DisplayName returns the human-readable role name, or the role itself when unknown
func (h *Hierarchy) DisplayName(role string) string {
	if name, ok := h.names[role]; ok {
		return name
	}
	return role
}

// Describe returns a Role populated from the hierarchy
func (h *Hierarchy) Describe(role string) Role {
	return Role{
		Name:        role,
		DisplayName: h.DisplayName(role),
		Rank:        h.Rank(role),
	}
}
