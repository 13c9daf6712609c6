// The TableSpec types live here so that both the import stages and the backend
// packages can import them without circular deps.
package storage

type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // "serial" is translated per backend; anything else is used verbatim
}

type ColumnSpec struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	References string `json:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// Table names of the Little Lemon schema.
const (
	TableCustomers = "Customers"
	TableCuisines  = "Cuisines"
	TableCourses   = "Courses"
	TableStarters  = "Starters"
	TableDesserts  = "Desserts"
	TableDrinks    = "Drinks"
	TableSides     = "Sides"
	TableOrders    = "Orders"
)

func notNull() *bool {
	f := false
	return &f
}

// lookupTable describes the shape shared by Starters, Desserts, Drinks and Sides:
// an autogenerated id and a unique name.
func lookupTable(name, idCol, nameCol string) TableSpec {
	return TableSpec{
		Name:        name,
		PrimaryKey:  &PrimaryKeySpec{Name: idCol, Type: "serial"},
		Columns:     []ColumnSpec{{Name: nameCol, Type: "varchar(255)", Nullable: notNull()}},
		Constraints: []ConstraintSpec{{Kind: "unique", Columns: []string{nameCol}}},
	}
}

// LittleLemonTables returns the target schema in dependency order
// (referenced tables first).
func LittleLemonTables() []TableSpec {
	return []TableSpec{
		{
			Name:       TableCustomers,
			PrimaryKey: &PrimaryKeySpec{Name: "CustomerID", Type: "varchar(64)"},
			Columns: []ColumnSpec{
				{Name: "Name", Type: "varchar(255)"},
				{Name: "City", Type: "varchar(255)"},
				{Name: "Country", Type: "varchar(255)"},
				{Name: "PostalCode", Type: "varchar(64)"},
				{Name: "CountryCode", Type: "varchar(16)"},
			},
		},
		lookupTable(TableCuisines, "CuisineID", "CuisineName"),
		{
			Name:       TableCourses,
			PrimaryKey: &PrimaryKeySpec{Name: "CourseID", Type: "serial"},
			Columns: []ColumnSpec{
				{Name: "CourseName", Type: "varchar(255)", Nullable: notNull()},
				{Name: "CuisineID", Type: "integer", References: TableCuisines + "(CuisineID)"},
			},
			Constraints: []ConstraintSpec{{Kind: "unique", Columns: []string{"CourseName"}}},
		},
		lookupTable(TableStarters, "StarterID", "StarterName"),
		lookupTable(TableDesserts, "DessertID", "DessertName"),
		lookupTable(TableDrinks, "DrinkID", "DrinkName"),
		lookupTable(TableSides, "SideID", "SideName"),
		{
			Name:       TableOrders,
			PrimaryKey: &PrimaryKeySpec{Name: "OrderID", Type: "varchar(64)"},
			Columns: []ColumnSpec{
				{Name: "OrderDate", Type: "date", Nullable: notNull()},
				{Name: "DeliveryDate", Type: "date", Nullable: notNull()},
				{Name: "CustomerID", Type: "varchar(64)", References: TableCustomers + "(CustomerID)"},
				{Name: "CourseID", Type: "integer", References: TableCourses + "(CourseID)"},
				{Name: "StarterID", Type: "integer", References: TableStarters + "(StarterID)"},
				{Name: "DessertID", Type: "integer", References: TableDesserts + "(DessertID)"},
				{Name: "DrinkID", Type: "integer", References: TableDrinks + "(DrinkID)"},
				{Name: "SideID", Type: "integer", References: TableSides + "(SideID)"},
				{Name: "Quantity", Type: "integer"},
				{Name: "Cost", Type: "decimal(10,2)"},
				{Name: "Sales", Type: "decimal(10,2)"},
				{Name: "Discount", Type: "decimal(10,2)"},
				{Name: "DeliveryCost", Type: "decimal(10,2)"},
			},
		},
	}
}
