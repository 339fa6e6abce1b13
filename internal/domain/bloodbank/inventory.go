package bloodbank

// CriticalThreshold is the unit count below which a pair is critical.
const CriticalThreshold = 5

type InventoryCell struct {
	BloodType   BloodType   `json:"blood_type"`
	ProductType ProductType `json:"product_type"`
	Count       int         `json:"count"`
	Critical    bool        `json:"critical"`
}

// InventorySummary counts available units for every blood type and product
// pair, zero cells included.
type InventorySummary struct {
	Cells         []InventoryCell                   `json:"cells"`
	Matrix        map[BloodType]map[ProductType]int `json:"matrix"`
	ByBloodType   map[BloodType]int                 `json:"by_blood_type"`
	ByProductType map[ProductType]int               `json:"by_product_type"`
	Total         int                               `json:"total"`
	CriticalCells int                               `json:"critical_cells"`
}

// BuildInventorySummary folds grouped counts into the full matrix. Counts
// for unknown types are ignored.
func BuildInventorySummary(counts []InventoryCount) *InventorySummary {
	s := &InventorySummary{
		Matrix:        make(map[BloodType]map[ProductType]int, len(BloodTypes)),
		ByBloodType:   make(map[BloodType]int, len(BloodTypes)),
		ByProductType: make(map[ProductType]int, len(ProductTypes)),
	}
	for _, bt := range BloodTypes {
		s.Matrix[bt] = make(map[ProductType]int, len(ProductTypes))
		s.ByBloodType[bt] = 0
		for _, pt := range ProductTypes {
			s.Matrix[bt][pt] = 0
			s.ByProductType[pt] = 0
		}
	}
	for _, c := range counts {
		row, ok := s.Matrix[c.BloodType]
		if !ok || !c.ProductType.Valid() {
			continue
		}
		row[c.ProductType] += c.Count
	}
	for _, bt := range BloodTypes {
		for _, pt := range ProductTypes {
			n := s.Matrix[bt][pt]
			cell := InventoryCell{BloodType: bt, ProductType: pt, Count: n, Critical: n < CriticalThreshold}
			if cell.Critical {
				s.CriticalCells++
			}
			s.Cells = append(s.Cells, cell)
			s.ByBloodType[bt] += n
			s.ByProductType[pt] += n
			s.Total += n
		}
	}
	return s
}

// Cell returns the cell for one pair.
func (s *InventorySummary) Cell(bt BloodType, pt ProductType) InventoryCell {
	n := s.Matrix[bt][pt]
	return InventoryCell{BloodType: bt, ProductType: pt, Count: n, Critical: n < CriticalThreshold}
}
