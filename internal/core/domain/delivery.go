package domain

type DeliveryAgent struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Contact         string  `json:"contact"`
	Vehicle         string  `json:"vehicle"`
	ServiceArea     string  `json:"service_area"`
	Rating          float64 `json:"rating"`
	IsAvailable     bool    `json:"is_available"`
	TotalDeliveries int     `json:"total_deliveries"`
}
