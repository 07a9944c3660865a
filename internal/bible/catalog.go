package bible

// catalog is served when the API version list is unreachable.
var catalog = []Version{
	{ID: 1, Name: "Reina Valera 1960", Version: "rv1960"},
	{ID: 2, Name: "Reina Valera 1995", Version: "rv1995"},
	{ID: 3, Name: "Nueva Versión Internacional", Version: "nvi"},
	{ID: 4, Name: "Dios Habla Hoy", Version: "dhh"},
	{ID: 5, Name: "Palabra de Dios para Todos", Version: "pdt"},
	{ID: 6, Name: "King James Version", Version: "kjv"},
}

// Catalog returns the built-in version list in the same shape as Versions.
func Catalog() Versions {
	out := Versions{
		Versions:  make([]Version, 0, len(catalog)),
		Endpoints: make([]string, 0, len(catalog)),
	}
	for _, v := range catalog {
		v.URI = "/api/read/" + v.Version
		out.Versions = append(out.Versions, v)
		out.Endpoints = append(out.Endpoints, v.URI+"/genesis/1")
	}
	return out
}

// VersionName returns the display name of a version code.
func VersionName(code string) (string, bool) {
	for _, v := range catalog {
		if v.Version == code {
			return v.Name, true
		}
	}
	return "", false
}
