package domain

// Character is a selectable debater.
type Character struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// DefaultCharacters returns the built-in character catalog.
func DefaultCharacters() []Character {
	return []Character{
		{ID: 1, Name: "秦始皇", Description: "统一六国的第一位皇帝", Image: "/images/qinshihuang.jpg"},
		{ID: 2, Name: "汉武帝", Description: "开创汉武盛世的伟大帝王", Image: "/images/hanwudi.jpg"},
		{ID: 3, Name: "唐太宗", Description: "贞观之治的开创者", Image: "/images/tangtaizong.jpg"},
	}
}
